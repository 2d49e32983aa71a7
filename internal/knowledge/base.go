package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// DefaultMaxUploadBytes caps a single uploaded file.
const DefaultMaxUploadBytes = 10 << 20

// MetaStore persists who uploaded which file (ISP: only kb_files operations).
type MetaStore interface {
	RecordKBUpload(ctx context.Context, name string, uploaderID *int64) error
	KBFileMeta(ctx context.Context) (map[string]domain.KBFile, error)
	DeleteKBFileMeta(ctx context.Context, name string) error
}

// Base manages the files of the knowledge directory. File names are slash-separated
// paths relative to the directory; nothing outside it can be read, written or removed.
type Base struct {
	dir      string
	meta     MetaStore
	maxBytes int64
	logger   *zap.Logger
}

// NewBase creates a knowledge base over dir. meta can be nil.
func NewBase(dir string, meta MetaStore, maxBytes int64, logger *zap.Logger) *Base {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Base{dir: dir, meta: meta, maxBytes: maxBytes, logger: logger}
}

// List returns every regular file under the directory, sorted by name, merged with upload metadata.
func (b *Base) List(ctx context.Context) ([]domain.KBFile, error) {
	if err := os.MkdirAll(b.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", b.dir, err)
	}

	meta, err := b.loadMeta(ctx)
	if err != nil {
		return nil, err
	}

	var files []domain.KBFile
	root := os.DirFS(b.dir)
	err = fs.WalkDir(root, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f := domain.KBFile{Name: name, SizeBytes: info.Size(), ModifiedAt: info.ModTime().UTC()}
		if m, ok := meta[name]; ok {
			f.UploaderUserID = m.UploaderUserID
			f.UploadedAt = m.UploadedAt
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Get returns a single file with its metadata, or domain.ErrNotFound.
func (b *Base) Get(ctx context.Context, name string) (domain.KBFile, error) {
	clean, err := cleanName(name)
	if err != nil {
		return domain.KBFile{}, err
	}
	root, err := os.OpenRoot(b.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.KBFile{}, fmt.Errorf("kb file %q: %w", clean, domain.ErrNotFound)
	}
	if err != nil {
		return domain.KBFile{}, fmt.Errorf("open %s: %w", b.dir, err)
	}
	defer root.Close()

	// Lstat so a symlink never reports on a file outside the directory.
	info, err := root.Lstat(filepath.FromSlash(clean))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return domain.KBFile{}, fmt.Errorf("kb file %q: %w", clean, domain.ErrNotFound)
	}
	if err != nil {
		return domain.KBFile{}, fmt.Errorf("%w: %q", domain.ErrInvalidPath, name)
	}

	f := domain.KBFile{Name: clean, SizeBytes: info.Size(), ModifiedAt: info.ModTime().UTC()}
	meta, err := b.loadMeta(ctx)
	if err != nil {
		return domain.KBFile{}, err
	}
	if m, ok := meta[clean]; ok {
		f.UploaderUserID = m.UploaderUserID
		f.UploadedAt = m.UploadedAt
	}
	return f, nil
}

// UploadName reduces an uploaded file name to its base name and checks that it
// is a visible file with an eligible document extension.
func UploadName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == ".." || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidPath, name)
	}
	if _, ok := domain.FormatFromPath(base); !ok {
		return "", fmt.Errorf("%w: %q is not a .md, .mdx or .txt file", domain.ErrInvalidPath, name)
	}
	return base, nil
}

// Save writes r to the directory under UploadName(name), replacing any file
// with that name.
func (b *Base) Save(ctx context.Context, name string, r io.Reader, uploaderID *int64) (domain.KBFile, error) {
	base, err := UploadName(name)
	if err != nil {
		return domain.KBFile{}, err
	}
	if err := os.MkdirAll(b.dir, 0o750); err != nil {
		return domain.KBFile{}, fmt.Errorf("create %s: %w", b.dir, err)
	}

	root, err := os.OpenRoot(b.dir)
	if err != nil {
		return domain.KBFile{}, fmt.Errorf("open %s: %w", b.dir, err)
	}
	defer root.Close()

	tmp := "." + base + ".upload"
	if err := b.writeLimited(root, tmp, r); err != nil {
		_ = root.Remove(tmp)
		return domain.KBFile{}, err
	}
	if err := root.Rename(tmp, base); err != nil {
		_ = root.Remove(tmp)
		return domain.KBFile{}, fmt.Errorf("replace %q: %w", base, err)
	}

	if b.meta != nil {
		if err := b.meta.RecordKBUpload(ctx, base, uploaderID); err != nil {
			return domain.KBFile{}, fmt.Errorf("record upload %q: %w", base, err)
		}
	}
	b.logger.Info("kb file saved", zap.String("name", base))
	return b.Get(ctx, base)
}

func (b *Base) writeLimited(root *os.Root, name string, r io.Reader) error {
	f, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create %q: %w", name, err)
	}
	n, err := io.Copy(f, io.LimitReader(r, b.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}
	if n > b.maxBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidInput, b.maxBytes)
	}
	return nil
}

// Delete removes a file by its relative name. Missing files yield domain.ErrNotFound.
func (b *Base) Delete(ctx context.Context, name string) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	root, err := os.OpenRoot(b.dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", b.dir, err)
	}
	defer root.Close()

	info, err := root.Lstat(filepath.FromSlash(clean))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return fmt.Errorf("kb file %q: %w", clean, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPath, name)
	}
	if err := root.Remove(filepath.FromSlash(clean)); err != nil {
		return fmt.Errorf("remove %q: %w", clean, err)
	}

	if b.meta != nil {
		if err := b.meta.DeleteKBFileMeta(ctx, clean); err != nil {
			return fmt.Errorf("delete metadata %q: %w", clean, err)
		}
	}
	b.logger.Info("kb file deleted", zap.String("name", clean))
	return nil
}

func (b *Base) loadMeta(ctx context.Context) (map[string]domain.KBFile, error) {
	if b.meta == nil {
		return nil, nil
	}
	meta, err := b.meta.KBFileMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load kb metadata: %w", err)
	}
	return meta, nil
}

// cleanName normalizes a relative file name and rejects anything escaping the directory.
func cleanName(name string) (string, error) {
	n := strings.ReplaceAll(name, `\`, "/")
	if n == "" || !filepath.IsLocal(filepath.FromSlash(n)) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidPath, name)
	}
	return path.Clean(n), nil
}
