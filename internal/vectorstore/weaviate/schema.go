package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

const fingerprintPrefix = "ragbot embedding="

// chunkProperties is the object layout written by Upsert and read by Query.
func chunkProperties() []*models.Property {
	text := func(name string) *models.Property {
		return &models.Property{Name: name, DataType: []string{"text"}}
	}
	integer := func(name string) *models.Property {
		return &models.Property{Name: name, DataType: []string{"int"}}
	}
	return []*models.Property{
		text("text"), text("source"), text("headings"), text("chunk_id"),
		integer("chunk_index"), integer("span_start"), integer("span_end"),
	}
}

// className applies Weaviate's rule that class names start upper-case and
// rejects anything GraphQL could not address.
func className(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty collection name", domain.ErrInvalidInput)
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	for i, c := range r {
		ok := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9')
		if !ok {
			return "", fmt.Errorf("%w: collection name %q", domain.ErrInvalidInput, name)
		}
	}
	return string(r), nil
}

func (s *Store) getClass(ctx context.Context, name string) (*models.Class, error) {
	class, err := className(name)
	if err != nil {
		return nil, err
	}
	c, err := s.client.Schema().ClassGetter().WithClassName(class).Do(ctx)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, class)
		}
		return nil, wrap("get class "+class, err)
	}
	return c, nil
}

// CollectionExists reports whether the class is in the schema.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.getClass(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrCollectionNotFound) {
		return false, nil
	}
	return false, err
}

// CreateCollection creates a class with cosine HNSW and no vectorizer. The
// embedding fingerprint goes into the class description.
func (s *Store) CreateCollection(ctx context.Context, spec domain.CollectionSpec) error {
	class, err := className(spec.Name)
	if err != nil {
		return err
	}
	def := &models.Class{
		Class:             class,
		Description:       fingerprintPrefix + spec.Fingerprint,
		Vectorizer:        "none",
		VectorIndexConfig: map[string]any{"distance": "cosine"},
		Properties:        chunkProperties(),
	}
	if err := s.client.Schema().ClassCreator().WithClass(def).Do(ctx); err != nil {
		if isStatus(err, http.StatusUnprocessableEntity) && strings.Contains(strings.ToLower(err.Error()), "already") {
			return fmt.Errorf("class %s: %w", class, domain.ErrAlreadyExists)
		}
		return wrap("create class "+class, err)
	}
	s.logger.Info("Weaviate class created", zap.String("class", class), zap.String("fingerprint", spec.Fingerprint))
	return nil
}

// DropCollection deletes the class and all its objects. A missing class is not an error.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	class, err := className(name)
	if err != nil {
		return err
	}
	if err := s.client.Schema().ClassDeleter().WithClassName(class).Do(ctx); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil
		}
		return wrap("drop class "+class, err)
	}
	return nil
}

// Fingerprint returns the fingerprint stored in the class description, or ""
// for classes created by other tools.
func (s *Store) Fingerprint(ctx context.Context, name string) (string, error) {
	c, err := s.getClass(ctx, name)
	if err != nil {
		return "", err
	}
	fp, ok := strings.CutPrefix(c.Description, fingerprintPrefix)
	if !ok {
		return "", nil
	}
	return fp, nil
}
