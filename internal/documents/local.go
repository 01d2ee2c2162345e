package documents

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps documents under a directory. References are paths
// relative to that directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("NewLocalStore: create %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Save writes the document to disk.
func (s *LocalStore) Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	ref := ObjectName(filename, time.Now())
	full := filepath.Join(s.dir, filepath.FromSlash(ref))

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("Save: create directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("Save: create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("Save: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("Save: close file: %w", err)
	}
	return ref, nil
}

// Fetch reads a document saved by Save.
func (s *LocalStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("Fetch: invalid document reference %q", ref)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, clean))
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return data, nil
}

var _ Store = (*LocalStore)(nil)
