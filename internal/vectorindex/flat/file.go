package flat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"intellichat/internal/vectorindex"
)

// FileBackend keeps flat indexes in a single binary file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend persisting to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Name returns the backend identifier.
func (b *FileBackend) Name() string { return "file" }

// Create returns an empty flat index.
func (b *FileBackend) Create(_ context.Context, dimension int) (vectorindex.Index, error) {
	return New(dimension)
}

// Persist writes idx to a temporary file next to the target and renames it
// into place, creating parent directories as needed.
func (b *FileBackend) Persist(_ context.Context, idx vectorindex.Index) error {
	x, ok := idx.(*Index)
	if !ok {
		return fmt.Errorf("file backend cannot persist %T", idx)
	}
	data, err := x.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

// Load reads the index file.
func (b *FileBackend) Load(_ context.Context) (vectorindex.Index, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, vectorindex.ErrNotPersisted
	}
	if err != nil {
		return nil, err
	}
	x := &Index{}
	if err := x.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("load %s: %w", b.path, err)
	}
	return x, nil
}

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }
