// Package valkey implements domain.VectorStore on Valkey/Redis Search: one
// HNSW index per collection over hashes under a shared key prefix.
package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/db"
	"github.com/kailas-cloud/ragbot/internal/db/redis"
	"github.com/kailas-cloud/ragbot/internal/domain"
)

// backend is the consumer interface over db.Store (ISP).
type backend interface {
	db.Pinger
	db.HashStore
	db.IndexManager
	db.Searcher
}

// Config tunes key layout and the HNSW graph.
type Config struct {
	KeyPrefix       string
	HNSWM           int
	HNSWEFConstruct int
}

// Store maps collections onto FT indexes.
type Store struct {
	db     backend
	cfg    Config
	logger *zap.Logger
}

var _ domain.VectorStore = (*Store)(nil)

// New wraps a connected db store.
func New(b backend, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: b, cfg: cfg, logger: logger}
}

var returnFields = []string{"text", "source", "headings", "chunk_id", "chunk_index", "span_start", "span_end"}

func (s *Store) indexName(collection string) string { return s.cfg.KeyPrefix + collection }
func (s *Store) docPrefix(collection string) string { return s.cfg.KeyPrefix + collection + ":" }
func (s *Store) metaKey(collection string) string { return s.cfg.KeyPrefix + "__meta__:" + collection }

// checkName accepts letters, digits and underscores, starting with a letter.
// Names never contain ':' or glob characters, so a collection's SCAN pattern
// cannot reach another collection's documents or the "__meta__" segment.
func checkName(name string) error {
	for i, c := range name {
		letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !letter && (i == 0 || (c != '_' && (c < '0' || c > '9'))) {
			return fmt.Errorf("%w: collection name %q", domain.ErrInvalidInput, name)
		}
	}
	if name == "" {
		return fmt.Errorf("%w: empty collection name", domain.ErrInvalidInput)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrVectorStoreError, op, err)
}

// Ready pings the server.
func (s *Store) Ready(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// CollectionExists checks for the FT index.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	ok, err := s.db.IndexExists(ctx, s.indexName(name))
	if err != nil {
		return false, storeErr("index exists", err)
	}
	return ok, nil
}

// CreateCollection creates the index and records the fingerprint in the meta hash.
func (s *Store) CreateCollection(ctx context.Context, spec domain.CollectionSpec) error {
	if err := checkName(spec.Name); err != nil {
		return err
	}
	if spec.Dimensions <= 0 {
		return fmt.Errorf("%w: collection %s needs known dimensions", domain.ErrInvalidInput, spec.Name)
	}
	def, err := db.NewIndex(s.indexName(spec.Name)).
		Prefix(s.docPrefix(spec.Name)).
		Text("text").
		Tag("source").
		Numeric("chunk_index").
		VectorHNSW(db.VectorField, spec.Dimensions, db.DistanceCosine, s.cfg.HNSWM, s.cfg.HNSWEFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	if err := s.db.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return fmt.Errorf("collection %s: %w", spec.Name, domain.ErrAlreadyExists)
		}
		return storeErr("create index", err)
	}

	meta := db.HashSetItem{Key: s.metaKey(spec.Name), Fields: map[string]string{
		"fingerprint": spec.Fingerprint,
		"dimensions":  strconv.Itoa(spec.Dimensions),
	}}
	if err := s.db.HSetMulti(ctx, []db.HashSetItem{meta}); err != nil {
		return storeErr("write meta", err)
	}

	s.logger.Info("Valkey index created",
		zap.String("index", def.Name),
		zap.Int("dimensions", spec.Dimensions),
		zap.String("fingerprint", spec.Fingerprint),
	)
	return nil
}

// DropCollection drops the index, then deletes its hashes and meta key.
// FT.DROPINDEX leaves documents behind, so they are scanned and deleted.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.db.DropIndex(ctx, s.indexName(name)); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return storeErr("drop index", err)
	}

	keys, err := s.db.Scan(ctx, s.docPrefix(name)+"*")
	if err != nil {
		return storeErr("scan", err)
	}
	const batch = 500
	for start := 0; start < len(keys); start += batch {
		if err := s.db.Del(ctx, keys[start:min(start+batch, len(keys))]...); err != nil {
			return storeErr("delete documents", err)
		}
	}
	if err := s.db.Del(ctx, s.metaKey(name)); err != nil {
		return storeErr("delete meta", err)
	}
	return nil
}

// Fingerprint reads the meta hash. Indexes created elsewhere yield "".
func (s *Store) Fingerprint(ctx context.Context, name string) (string, error) {
	ok, err := s.CollectionExists(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	meta, err := s.db.HGetAll(ctx, s.metaKey(name))
	if err != nil {
		return "", storeErr("read meta", err)
	}
	return meta["fingerprint"], nil
}

// Upsert writes one hash per chunk in a single pipeline.
func (s *Store) Upsert(ctx context.Context, collection string, items []domain.StoredChunk) error {
	if len(items) == 0 {
		return nil
	}
	if err := checkName(collection); err != nil {
		return err
	}

	meta, err := s.db.HGetAll(ctx, s.metaKey(collection))
	if err != nil {
		return storeErr("read meta", err)
	}
	dims, _ := strconv.Atoi(meta["dimensions"])

	hashes := make([]db.HashSetItem, len(items))
	for i, it := range items {
		if dims > 0 && len(it.Vector) != dims {
			return fmt.Errorf("%w: chunk %s has %d dimensions, collection %s expects %d",
				domain.ErrVectorStoreError, it.Chunk.ID, len(it.Vector), collection, dims)
		}
		headings, err := json.Marshal(it.Chunk.Headings)
		if err != nil {
			return fmt.Errorf("encode headings: %w", err)
		}
		fields := map[string]string{
			"text":        it.Chunk.Text,
			"source":      it.Chunk.Source,
			"headings":    string(headings),
			"chunk_id":    it.Chunk.ID,
			"chunk_index": strconv.Itoa(it.Chunk.Index),
			"span_start":  strconv.Itoa(it.Chunk.SpanStart),
			"span_end":    strconv.Itoa(it.Chunk.SpanEnd),
		}
		fields[db.VectorField] = redis.VectorToBytes(it.Vector)
		hashes[i] = db.HashSetItem{Key: s.docPrefix(collection) + it.Chunk.ID, Fields: fields}
	}

	if err := s.db.HSetMulti(ctx, hashes); err != nil {
		return storeErr("hset", err)
	}
	return nil
}

// Query runs FT.SEARCH KNN over the collection index.
func (s *Store) Query(
	ctx context.Context, collection string, vector []float32, k int, withVectors bool,
) ([]domain.ScoredChunk, error) {
	if err := checkName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	fields := returnFields
	if withVectors {
		fields = append(fields[:len(fields):len(fields)], db.VectorField)
	}

	res, err := s.db.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    s.indexName(collection),
		Vector:       vector,
		K:            k,
		ReturnFields: fields,
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
		}
		return nil, storeErr("search", err)
	}

	hits := make([]domain.ScoredChunk, 0, len(res.Entries))
	for _, e := range res.Entries {
		hit, err := s.toScored(e, withVectors)
		if err != nil {
			s.logger.Warn("Skipping malformed search entry", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) toScored(e db.SearchEntry, withVectors bool) (domain.ScoredChunk, error) {
	f := e.Fields
	c := domain.Chunk{
		ID:        f["chunk_id"],
		Source:    f["source"],
		Text:      f["text"],
		SpanStart: atoiOr(f["span_start"], -1),
		SpanEnd:   atoiOr(f["span_end"], -1),
		Index:     atoiOr(f["chunk_index"], 0),
	}
	if h := f["headings"]; h != "" && h != "null" {
		if err := json.Unmarshal([]byte(h), &c.Headings); err != nil {
			return domain.ScoredChunk{}, fmt.Errorf("decode headings: %w", err)
		}
	}

	hit := domain.ScoredChunk{Chunk: c, Score: e.Score}
	if withVectors {
		v, err := redis.BytesToVector(f[db.VectorField])
		if err != nil {
			return domain.ScoredChunk{}, err
		}
		hit.Vector = v
	}
	return hit, nil
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
