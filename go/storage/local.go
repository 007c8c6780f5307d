package storage

import (
	"context"
	"io"
	"os"

	"github.com/visionlens/visionlens/go/skerr"
)

// localFS is the FileSystem backend for plain filesystem paths.
type localFS struct{}

// Exists implements FileSystem.
func (l *localFS) Exists(_ context.Context, path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, skerr.Wrap(err)
	}
	return true, nil
}

// ReadBytes implements FileSystem.
func (l *localFS) ReadBytes(_ context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading %s", path)
	}
	return b, nil
}

// Open implements FileSystem.
func (l *localFS) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, skerr.Wrapf(err, "opening %s", path)
	}
	return f, nil
}

// ListDir implements FileSystem.
func (l *localFS) ListDir(_ context.Context, path string) ([]Entry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing %s", path)
	}
	rv := make([]Entry, 0, len(entries))
	for _, e := range entries {
		ent := Entry{
			Name:  e.Name(),
			IsDir: e.IsDir(),
		}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				ent.Size = info.Size()
			}
		}
		rv = append(rv, ent)
	}
	return rv, nil
}

// IsDir implements FileSystem.
func (l *localFS) IsDir(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, skerr.Wrap(err)
	}
	return info.IsDir(), nil
}

var _ FileSystem = (*localFS)(nil)
