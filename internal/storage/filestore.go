// Package storage keeps uploaded files on disk under the sandbox root and
// indexes them in SQLite.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/ptybridge/internal/model"
	"github.com/remote-agent-terminal/ptybridge/internal/repository"
)

// FileStore stores files in a single directory. The directory is shared
// with terminal processes, which may add files of their own; listings
// show those too.
type FileStore struct {
	root     string
	realRoot string
	repo     *repository.UploadRepository
	maxBytes int64
	logger   *zap.Logger
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string, repo *repository.UploadRepository, maxBytes int64, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload root: %w", err)
	}
	return &FileStore{
		root:     abs,
		realRoot: realRoot,
		repo:     repo,
		maxBytes: maxBytes,
		logger:   logger.With(zap.String("component", "filestore")),
	}, nil
}

// Root returns the absolute upload directory.
func (s *FileStore) Root() string {
	return s.root
}

// MaxBytes returns the per-file size limit.
func (s *FileStore) MaxBytes() int64 {
	return s.maxBytes
}

// Store writes r under name, replacing any file of that name. Only the
// base name is kept. Content beyond the size limit fails the upload with
// ErrFileTooLarge and leaves any previous file untouched.
func (s *FileStore) Store(ctx context.Context, name, contentType string, r io.Reader) (*model.Upload, error) {
	filename, err := sanitizeFilename(name)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(r, s.maxBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if n > s.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", model.ErrFileTooLarge, s.maxBytes)
	}

	// Concurrent uploads of one name race here; the last rename wins.
	if err := os.Rename(tmpName, filepath.Join(s.root, filename)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	committed = true

	now := time.Now().UTC()
	upload := &model.Upload{
		ID:          uuid.New().String(),
		Filename:    filename,
		Size:        n,
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Upsert(ctx, upload); err != nil {
		return nil, err
	}

	stored, err := s.repo.GetByFilename(ctx, filename)
	if err != nil {
		return nil, err
	}

	s.logger.Info("file stored",
		zap.String("filename", filename),
		zap.Int64("size", n),
		zap.String("digest", stored.Digest))
	return stored, nil
}

// List returns the regular files in the root, by name, with index
// metadata where it exists.
func (s *FileStore) List(ctx context.Context) ([]model.FileEntry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload root: %w", err)
	}

	indexed, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*model.Upload, len(indexed))
	for _, u := range indexed {
		byName[u.Filename] = u
	}

	files := make([]model.FileEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		entry := model.FileEntry{
			Filename: e.Name(),
			Path:     model.FileURL(e.Name()),
		}
		if info, err := e.Info(); err == nil {
			entry.Size = info.Size()
		}
		if u, ok := byName[e.Name()]; ok && u.Size == entry.Size {
			entry.Digest = u.Digest
		}
		files = append(files, entry)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// Open opens a stored file by its path relative to the root. The path may
// carry the /files/ prefix. Paths escaping the root fail with
// ErrPathOutsideRoot.
func (s *FileStore) Open(path string) (*os.File, fs.FileInfo, error) {
	rel, err := s.relative(path)
	if err != nil {
		return nil, nil, err
	}
	if err := s.confine(rel); err != nil {
		return nil, nil, err
	}

	// os.Root refuses an escape even if a link changed since confine.
	root, err := os.OpenRoot(s.root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open upload root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, model.ErrUploadNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, model.ErrUploadNotFound
	}
	return f, info, nil
}

// Fetch returns the contents of a stored file.
func (s *FileStore) Fetch(path string) ([]byte, error) {
	f, _, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Delete removes a stored file and its index record.
func (s *FileStore) Delete(ctx context.Context, path string) error {
	rel, err := s.relative(path)
	if err != nil {
		return err
	}
	// A symlink as the last element is removed itself, so only its
	// directory has to stay inside the root.
	if err := s.confine(filepath.Dir(rel)); err != nil {
		return err
	}

	root, err := os.OpenRoot(s.root)
	if err != nil {
		return fmt.Errorf("failed to open upload root: %w", err)
	}
	defer root.Close()

	if err := root.Remove(rel); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.ErrUploadNotFound
		}
		return fmt.Errorf("failed to remove file: %w", err)
	}
	if err := s.repo.Delete(ctx, filepath.ToSlash(rel)); err != nil && !errors.Is(err, model.ErrUploadNotFound) {
		return err
	}
	return nil
}

// relative turns a client path into a path local to the root.
func (s *FileStore) relative(path string) (string, error) {
	rel := strings.TrimPrefix(path, model.FilesURLPrefix)
	rel = strings.TrimPrefix(rel, "/")
	rel = filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(rel) {
		return "", model.ErrPathOutsideRoot
	}
	return filepath.Clean(rel), nil
}

// confine resolves symlinks along rel and fails with ErrPathOutsideRoot
// when the target lies outside the root.
func (s *FileStore) confine(rel string) error {
	resolved, err := filepath.EvalSymlinks(filepath.Join(s.root, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return model.ErrUploadNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	inside, err := filepath.Rel(s.realRoot, resolved)
	if err != nil || (inside != "." && !filepath.IsLocal(inside)) {
		return model.ErrPathOutsideRoot
	}
	return nil
}

func sanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(strings.TrimSpace(name))
	switch {
	case base == "", base == ".", base == "..", base == "/":
		return "", fmt.Errorf("%w: %q", model.ErrInvalidFilename, name)
	case strings.HasPrefix(base, ".upload-"):
		return "", fmt.Errorf("%w: reserved name %q", model.ErrInvalidFilename, name)
	case strings.ContainsRune(base, 0):
		return "", fmt.Errorf("%w: %q", model.ErrInvalidFilename, name)
	}
	return base, nil
}
