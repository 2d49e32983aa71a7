// Package knowledge reads and manages the documents under the knowledge directory.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// Loader reads eligible documents (.md, .mdx, .txt) from a directory tree.
type Loader struct {
	dir    string
	logger *zap.Logger
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

// Dir returns the knowledge directory.
func (l *Loader) Dir() string { return l.dir }

// Load walks the directory recursively and returns every eligible document in path order.
// A missing directory yields no documents.
func (l *Loader) Load(ctx context.Context) ([]domain.Document, error) {
	paths, err := l.eligiblePaths(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		text := strings.ToValidUTF8(string(data), "")
		docs = append(docs, domain.NewDocument(path, text))
	}

	l.logger.Debug("documents loaded", zap.String("dir", l.dir), zap.Int("count", len(docs)))
	return docs, nil
}

func (l *Loader) eligiblePaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := domain.FormatFromPath(path); ok && d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}
