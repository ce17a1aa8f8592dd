package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStorage writes photos into a directory served under a public path.
type LocalStorage struct {
	dir        string
	publicPath string
}

// NewLocalStorage creates dir when missing.
func NewLocalStorage(dir, publicPath string) (*LocalStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("photos: directory is required")
	}
	if !strings.HasPrefix(publicPath, "/") {
		return nil, fmt.Errorf("photos: public path must start with /")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("photos: create directory: %w", err)
	}
	return &LocalStorage{dir: dir, publicPath: strings.TrimRight(publicPath, "/")}, nil
}

// Dir is the directory photos are written to.
func (s *LocalStorage) Dir() string {
	return s.dir
}

func (s *LocalStorage) Save(ctx context.Context, object Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := filepath.Join(s.dir, filepath.Base(object.Name))
	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("photos: create %s: %w", object.Name, err)
	}
	if _, err := io.Copy(file, object.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("photos: write %s: %w", object.Name, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("photos: close %s: %w", object.Name, err)
	}
	return path.Join(s.publicPath, filepath.Base(object.Name)), nil
}

func (s *LocalStorage) Delete(_ context.Context, reference string) error {
	name := path.Base(reference)
	if name == "." || name == "/" {
		return fmt.Errorf("photos: invalid reference %q", reference)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("photos: delete %s: %w", name, err)
	}
	return nil
}
