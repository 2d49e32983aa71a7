package weaviate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// Upsert writes items through the batch endpoint. Objects are keyed by chunk
// ID, so re-upserting a chunk replaces it.
func (s *Store) Upsert(ctx context.Context, collection string, items []domain.StoredChunk) error {
	if len(items) == 0 {
		return nil
	}
	class, err := className(collection)
	if err != nil {
		return err
	}

	objects := make([]*models.Object, len(items))
	for i, it := range items {
		headings, err := json.Marshal(it.Chunk.Headings)
		if err != nil {
			return fmt.Errorf("encode headings: %w", err)
		}
		objects[i] = &models.Object{
			Class: class,
			ID:    strfmt.UUID(it.Chunk.ID),
			Properties: map[string]any{
				"text":        it.Chunk.Text,
				"source":      it.Chunk.Source,
				"headings":    string(headings),
				"chunk_id":    it.Chunk.ID,
				"chunk_index": it.Chunk.Index,
				"span_start":  it.Chunk.SpanStart,
				"span_end":    it.Chunk.SpanEnd,
			},
			Vector: models.C11yVector(it.Vector),
		}
	}

	results, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return wrap("batch upsert into "+class, err)
	}
	for _, r := range results {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("%w: object %s: %s", domain.ErrVectorStoreError, r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

type hitObject struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Headings   string `json:"headings"`
	ChunkID    string `json:"chunk_id"`
	ChunkIndex int    `json:"chunk_index"`
	SpanStart  *int   `json:"span_start"`
	SpanEnd    *int   `json:"span_end"`
	Additional struct {
		ID       string    `json:"id"`
		Distance float64   `json:"distance"`
		Vector   []float32 `json:"vector"`
	} `json:"_additional"`
}

func hitFields(withVectors bool) []graphql.Field {
	additional := []graphql.Field{{Name: "id"}, {Name: "distance"}}
	if withVectors {
		additional = append(additional, graphql.Field{Name: "vector"})
	}
	return []graphql.Field{
		{Name: "text"}, {Name: "source"}, {Name: "headings"}, {Name: "chunk_id"},
		{Name: "chunk_index"}, {Name: "span_start"}, {Name: "span_end"},
		{Name: "_additional", Fields: additional},
	}
}

// Query runs a nearVector search. Score is 1 - cosine distance.
func (s *Store) Query(
	ctx context.Context, collection string, vector []float32, k int, withVectors bool,
) ([]domain.ScoredChunk, error) {
	class, err := className(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	gql := s.client.GraphQL()
	resp, err := gql.Get().
		WithClassName(class).
		WithFields(hitFields(withVectors)...).
		WithNearVector(gql.NearVectorArgBuilder().WithVector(vector)).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, wrap("query "+class, err)
	}
	if len(resp.Errors) > 0 {
		// an unknown class surfaces as a GraphQL field error
		if ok, existsErr := s.CollectionExists(ctx, class); existsErr == nil && !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, class)
		}
		return nil, fmt.Errorf("%w: query %s: %s", domain.ErrVectorStoreError, class, resp.Errors[0].Message)
	}

	objs, err := decodeHits(resp.Data, class)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s hits: %w", domain.ErrVectorStoreError, class, err)
	}
	hits := make([]domain.ScoredChunk, 0, len(objs))
	for _, o := range objs {
		hits = append(hits, o.toScored(withVectors))
	}
	return hits, nil
}

// decodeHits reads data.Get.<class> from the untyped GraphQL payload.
func decodeHits(data map[string]models.JSONObject, class string) ([]hitObject, error) {
	raw, err := json.Marshal(data["Get"])
	if err != nil {
		return nil, err
	}
	var get map[string][]hitObject
	if err := json.Unmarshal(raw, &get); err != nil {
		return nil, err
	}
	return get[class], nil
}

func (o hitObject) toScored(withVectors bool) domain.ScoredChunk {
	c := domain.Chunk{
		ID:        o.ChunkID,
		Source:    o.Source,
		Index:     o.ChunkIndex,
		Text:      o.Text,
		SpanStart: -1,
		SpanEnd:   -1,
	}
	if c.ID == "" {
		c.ID = o.Additional.ID
	}
	if o.SpanStart != nil && o.SpanEnd != nil {
		c.SpanStart, c.SpanEnd = *o.SpanStart, *o.SpanEnd
	}
	if o.Headings != "" {
		// objects written by other tools may carry no or foreign headings
		_ = json.Unmarshal([]byte(o.Headings), &c.Headings)
	}

	hit := domain.ScoredChunk{Chunk: c, Score: min(1, max(0, 1-o.Additional.Distance))}
	if withVectors {
		hit.Vector = o.Additional.Vector
	}
	return hit
}
