package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file:"

// FileStore keeps documents under a root directory. Locations are
// "file:<relative path>" and never resolve outside the root.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("artifact directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", abs, err)
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, path := s.resolve(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	// Write then rename so a reader never sees a partial document.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", rel, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish artifact %s: %w", rel, err)
	}
	return fileScheme + rel, nil
}

func (s *FileStore) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, ok := strings.CutPrefix(location, fileScheme)
	if !ok || name == "" {
		return fmt.Errorf("%q: %w", location, ErrForeignLocation)
	}
	rel, path := s.resolve(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact %s: %w", rel, err)
	}
	return nil
}

// resolve cleans name as if rooted so ".." segments cannot climb out.
func (s *FileStore) resolve(name string) (string, string) {
	rel := strings.TrimPrefix(filepath.Clean("/"+filepath.FromSlash(name)), string(filepath.Separator))
	return filepath.ToSlash(rel), filepath.Join(s.root, rel)
}
