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
	"context"
	"net/http"
	"unicode"
	"unicode/utf8"

	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
	"github.com/tmc/langchaingo/schema"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ Retriever = (*WeaviateRetriever)(nil)

// Default property names of the indexed message class.
const (
	DefaultContentProperty = "content"
	DefaultChannelProperty = "channel"
)

// WeaviateRetriever answers retrieval requests straight from Weaviate.
//
// # Description
//
// Used instead of the HTTP search service when the collection is indexed
// in a Weaviate instance the relay can reach. The collection name maps to
// the class name with its first letter upper-cased ("discord" ->
// "Discord"). Channel filters become a ContainsAny filter on the channel
// property, and the question is matched with nearText.
//
// # Limitations
//
//   - Requires a text vectorizer module on the class for nearText.
//   - No retrieval report is produced.
type WeaviateRetriever struct {
	client          *weaviate.Client
	contentProperty string
	channelProperty string
}

// NewWeaviateRetriever creates a retriever. Empty property names select
// the defaults.
func NewWeaviateRetriever(client *weaviate.Client, contentProperty, channelProperty string) *WeaviateRetriever {
	if contentProperty == "" {
		contentProperty = DefaultContentProperty
	}
	if channelProperty == "" {
		channelProperty = DefaultChannelProperty
	}
	return &WeaviateRetriever{
		client:          client,
		contentProperty: contentProperty,
		channelProperty: channelProperty,
	}
}

// Retrieve implements Retriever.
func (w *WeaviateRetriever) Retrieve(ctx context.Context, req *datatypes.RetrievalRequest) (*datatypes.RetrievalResult, error) {
	ctx, span := retrievalTracer.Start(ctx, "WeaviateRetriever.Retrieve", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if err := validateRetrievalRequest(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	className := classNameFor(req.Collection)
	span.SetAttributes(
		attribute.String("retrieval.class", className),
		attribute.Int("retrieval.max_docs", req.MaxDocs),
	)

	fields := []graphql.Field{
		{Name: w.contentProperty},
		{Name: w.channelProperty},
		{Name: "_additional { id distance }"},
	}
	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{req.Question})

	query := w.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(req.MaxDocs)
	if len(req.Filters) > 0 {
		query = query.WithWhere(filters.Where().
			WithPath([]string{w.channelProperty}).
			WithOperator(filters.ContainsAny).
			WithValueText(req.Filters...))
	}

	result, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, &RetrievalError{Message: "weaviate search failed", Err: err}
	}
	if len(result.Errors) > 0 {
		err := &RetrievalError{StatusCode: http.StatusBadGateway, Status: http.StatusText(http.StatusBadGateway), Message: result.Errors[0].Message}
		span.RecordError(err)
		span.SetStatus(codes.Error, "graphql error")
		return nil, err
	}

	docs := w.parseDocuments(result, className)
	span.SetAttributes(attribute.Int("retrieval.documents", len(docs)))
	return &datatypes.RetrievalResult{Documents: docs}, nil
}

// parseDocuments converts the Get payload into documents, preserving rank
// order and skipping malformed objects.
func (w *WeaviateRetriever) parseDocuments(result *models.GraphQLResponse, className string) []schema.Document {
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []schema.Document{}
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return []schema.Document{}
	}

	docs := make([]schema.Document, 0, len(objects))
	for _, obj := range objects {
		props, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := props[w.contentProperty].(string)
		doc := schema.Document{
			PageContent: content,
			Metadata:    map[string]any{},
		}
		if channel, ok := props[w.channelProperty].(string); ok {
			doc.Metadata["channel"] = channel
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				doc.Metadata["id"] = id
			}
			if distance, ok := additional["distance"].(float64); ok {
				doc.Score = float32(1 - distance)
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

// classNameFor maps a collection name to a Weaviate class name.
func classNameFor(collection string) string {
	if collection == "" {
		collection = datatypes.DefaultCollection
	}
	r, size := utf8.DecodeRuneInString(collection)
	return string(unicode.ToUpper(r)) + collection[size:]
}
