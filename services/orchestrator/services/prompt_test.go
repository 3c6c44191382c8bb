// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tmc/langchaingo/schema"
)

func TestContextText_JoinsInOrder(t *testing.T) {
	docs := []schema.Document{{PageContent: "first"}, {PageContent: "second"}}
	assert.Equal(t, "first\nsecond\n", ContextText(docs))
	assert.Equal(t, "", ContextText(nil))
}

func TestAssemblePrompt_Template(t *testing.T) {
	got := AssemblePrompt("Lido is a staking protocol.\n", "What is Lido?")

	want := "Use the following pieces of context to answer the question at the end. " +
		"If you don't know the answer, just say that you don't know, don't try to make up an answer." +
		"\n\nLido is a staking protocol.\n\n\nQuestion: What is Lido?\nHelpful Answer:"
	assert.Equal(t, want, got)
}

func TestAssemblePrompt_EmptyContextKeepsQuestion(t *testing.T) {
	got := AssemblePrompt("", "Who runs Flashbots?")

	assert.True(t, strings.HasPrefix(got, promptPreamble))
	assert.Contains(t, got, "\n\n\n\nQuestion: Who runs Flashbots?")
	assert.True(t, strings.HasSuffix(got, "Helpful Answer:"))
}

func TestAssemblePrompt_IsDeterministic(t *testing.T) {
	assert.Equal(t, AssemblePrompt("ctx", "q"), AssemblePrompt("ctx", "q"))
}

func TestAssemblePrompt_QuestionVerbatim(t *testing.T) {
	q := "what about {context} and \"quotes\"?"
	assert.Contains(t, AssemblePrompt("c", q), "Question: "+q+"\n")
}
