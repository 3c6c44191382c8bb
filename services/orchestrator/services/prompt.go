// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"strings"

	"github.com/tmc/langchaingo/schema"
)

// promptPreamble instructs the model to stay inside the retrieved context.
const promptPreamble = "Use the following pieces of context to answer the question at the end. " +
	"If you don't know the answer, just say that you don't know, don't try to make up an answer."

// ContextText joins document contents, each followed by a newline, in
// retrieval order.
func ContextText(docs []schema.Document) string {
	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(d.PageContent)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// AssemblePrompt builds the augmented user instruction from retrieved
// context and the question. The output is a pure function of its inputs;
// an empty context still yields the full template.
func AssemblePrompt(context, question string) string {
	var sb strings.Builder
	sb.Grow(len(promptPreamble) + len(context) + len(question) + 40)
	sb.WriteString(promptPreamble)
	sb.WriteString("\n\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\nHelpful Answer:")
	return sb.String()
}
