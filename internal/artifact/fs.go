package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Get for keys with no stored artifact.
var ErrNotFound = errors.New("artifact not found")

// FS stores artifacts as flat files under a single directory. Writes go
// through a temp file and rename so a crashed write never leaves a partial
// artifact under its final key.
type FS struct {
	dir string
}

func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FS{dir: dir}, nil
}

func (f *FS) Put(key string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return &WriteError{Key: key, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WriteError{Key: key, Err: err}
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, key)); err != nil {
		os.Remove(tmpName)
		return &WriteError{Key: key, Err: err}
	}
	return nil
}

func (f *FS) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return data, nil
}

func (f *FS) Delete(key string) error {
	err := os.Remove(filepath.Join(f.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
