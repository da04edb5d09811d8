// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mracul/code-assistant/services/codeassist/chunk"
)

// CodeChunkClass is the Weaviate class holding code chunks.
const CodeChunkClass = "CodeChunk"

// batchSize caps the objects sent per batch request.
const batchSize = 100

var tracer = otel.Tracer("codeassist.retrieval")

// ErrInvalidURL is returned for a Weaviate URL without scheme or host.
var ErrInvalidURL = errors.New("invalid weaviate url")

// WeaviateStore keeps chunk vectors in Weaviate and searches them with
// nearVector queries. Objects are scoped to one project so several
// projects can share a server.
//
// Thread Safety: Safe for concurrent use.
type WeaviateStore struct {
	client   *weaviate.Client
	embedder Embedder
	project  string
	logger   *slog.Logger
}

// NewWeaviateClient builds a client from a URL such as http://localhost:8080.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// NewWeaviateStore wraps client and makes sure the CodeChunk class exists.
func NewWeaviateStore(ctx context.Context, client *weaviate.Client, embedder Embedder, project string, logger *slog.Logger) (*WeaviateStore, error) {
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &WeaviateStore{
		client:   client,
		embedder: embedder,
		project:  project,
		logger:   logger.With(slog.String("component", "weaviate_store")),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// CodeChunkSchema returns the class definition. Vectors are supplied by
// the caller, so the class has no vectorizer.
func CodeChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       CodeChunkClass,
		Description: "A function, class or text window of a source file.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "project",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "file_path",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{Name: "name", DataType: []string{"text"}},
			{Name: "chunk_type", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "start_line", DataType: []string{"int"}},
		},
	}
}

func (s *WeaviateStore) ensureSchema(ctx context.Context) error {
	class := CodeChunkSchema()
	if _, err := s.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		s.logger.Debug("Schema already exists", slog.String("class", class.Class))
		return nil
	}
	s.logger.Info("Schema not found, creating it", slog.String("class", class.Class))
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create %s schema: %w", class.Class, err)
	}
	return nil
}

// chunkID derives a stable object id so re-indexing overwrites rather
// than duplicates. The start line keeps same-named methods of different
// classes apart.
func (s *WeaviateStore) chunkID(c chunk.Chunk) strfmt.UUID {
	hash := sha256.Sum256([]byte(s.project + "\x00" + c.FilePath + "\x00" + c.Name + "\x00" + strconv.Itoa(c.StartLine)))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// AddChunks implements Retriever.
func (s *WeaviateStore) AddChunks(ctx context.Context, chunks []chunk.Chunk) error {
	ctx, span := tracer.Start(ctx, "WeaviateStore.AddChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.chunks", len(chunks)))

	for _, file := range filesOf(chunks) {
		if err := s.deleteFile(ctx, file); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		objects := make([]*models.Object, 0, end-start)
		for _, c := range chunks[start:end] {
			vec, err := s.embedder.Embed(ctx, c.Content)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("embedding %s:%s: %w", c.FilePath, c.Name, err)
			}
			objects = append(objects, &models.Object{
				Class:  CodeChunkClass,
				ID:     s.chunkID(c),
				Vector: vec,
				Properties: map[string]interface{}{
					"project":    s.project,
					"file_path":  c.FilePath,
					"name":       c.Name,
					"chunk_type": string(c.Type),
					"content":    c.Content,
					"start_line": c.StartLine,
				},
			})
		}

		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("batch import to weaviate: %w", err)
		}
		for _, item := range resp {
			if item.Result != nil && item.Result.Errors != nil {
				for _, errItem := range item.Result.Errors.Error {
					s.logger.Warn("Error in Weaviate batch item", slog.String("error", errItem.Message))
				}
			}
		}
	}
	return nil
}

// deleteFile removes the project's stored chunks for file.
func (s *WeaviateStore) deleteFile(ctx context.Context, file string) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"project"}).
				WithOperator(filters.Equal).
				WithValueString(s.project),
			filters.Where().
				WithPath([]string{"file_path"}).
				WithOperator(filters.Equal).
				WithValueString(file),
		})

	if _, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(CodeChunkClass).
		WithWhere(where).
		Do(ctx); err != nil {
		return fmt.Errorf("deleting stale chunks of %s: %w", file, err)
	}
	return nil
}

// filesOf lists the distinct file paths of chunks in first-seen order.
func filesOf(chunks []chunk.Chunk) []string {
	seen := make(map[string]bool)
	var files []string
	for _, c := range chunks {
		if !seen[c.FilePath] {
			seen[c.FilePath] = true
			files = append(files, c.FilePath)
		}
	}
	return files
}

// Search implements Retriever.
func (s *WeaviateStore) Search(ctx context.Context, text string, k int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Search")
	defer span.End()

	if k <= 0 {
		return []Hit{}, nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	where := filters.Where().
		WithPath([]string{"project"}).
		WithOperator(filters.Equal).
		WithValueString(s.project)
	fields := []graphql.Field{
		{Name: "file_path"},
		{Name: "name"},
		{Name: "content"},
		{Name: "start_line"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(CodeChunkClass).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}

	hits := parseHits(result)
	span.SetAttributes(attribute.Int("retrieval.hits", len(hits)))
	return hits, nil
}

// parseHits decodes a Get response for CodeChunk objects.
func parseHits(result *models.GraphQLResponse) []Hit {
	hits := []Hit{}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return hits
	}
	objects, ok := data[CodeChunkClass].([]interface{})
	if !ok {
		return hits
	}
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		h := Hit{
			FilePath:       stringField(m, "file_path"),
			Name:           stringField(m, "name"),
			ContentPreview: preview(stringField(m, "content")),
		}
		if line, ok := m["start_line"].(float64); ok {
			h.StartLine = int(line)
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				h.Score = certainty
			}
		}
		hits = append(hits, h)
	}
	return hits
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

var _ Retriever = (*WeaviateStore)(nil)
