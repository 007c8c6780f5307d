// Package storage provides one filesystem abstraction spanning local paths
// and gs:// object-store URIs, so the scanner and ingester never care where
// a dataset lives.
package storage

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/visionlens/visionlens/go/skerr"
)

// Entry is one directory listing result.
type Entry struct {
	// Name is the base name of the entry, without any directory prefix.
	Name string
	// IsDir is true for directories (or object-store prefixes).
	IsDir bool
	// Size is the file size in bytes, 0 for directories.
	Size int64
}

// FileSystem is the per-scheme backend. Paths passed in are full paths in
// that scheme, e.g. /data/coco or gs://bucket/coco.
type FileSystem interface {
	// Exists returns true if path names a file or directory.
	Exists(ctx context.Context, path string) (bool, error)

	// ReadBytes returns the entire contents of the file at path.
	ReadBytes(ctx context.Context, path string) ([]byte, error)

	// Open returns a streaming reader for the file at path. The caller
	// must close it.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// ListDir returns the immediate children of the directory at path.
	ListDir(ctx context.Context, path string) ([]Entry, error)

	// IsDir returns true if path names a directory.
	IsDir(ctx context.Context, path string) (bool, error)
}

// Client routes each path to the backend for its URI scheme. Backends are
// created once and cached, never per request.
type Client struct {
	// credentialsFile is used when the gs:// backend is first needed. Empty
	// means application default credentials.
	credentialsFile string

	mtx      sync.Mutex
	backends map[string]FileSystem
}

// New returns a Client. The GCS backend is created lazily on the first
// gs:// path, so purely local deployments never touch the storage API.
func New(credentialsFile string) *Client {
	return &Client{
		credentialsFile: credentialsFile,
		backends:        map[string]FileSystem{},
	}
}

// forPath returns the cached backend for the path's scheme.
func (c *Client) forPath(ctx context.Context, p string) (FileSystem, error) {
	scheme := "file"
	if strings.HasPrefix(p, "gs://") {
		scheme = "gcs"
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if fs, ok := c.backends[scheme]; ok {
		return fs, nil
	}
	var fs FileSystem
	if scheme == "gcs" {
		var opts []option.ClientOption
		if c.credentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(c.credentialsFile))
		}
		sc, err := gstorage.NewClient(ctx, opts...)
		if err != nil {
			return nil, skerr.Wrapf(err, "creating GCS client")
		}
		fs = &gcsFS{client: sc}
	} else {
		fs = &localFS{}
	}
	c.backends[scheme] = fs
	return fs, nil
}

// Exists returns true if path names a file or directory.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	fs, err := c.forPath(ctx, path)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	return fs.Exists(ctx, path)
}

// ReadBytes returns the entire contents of the file at path.
func (c *Client) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	fs, err := c.forPath(ctx, path)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return fs.ReadBytes(ctx, path)
}

// Open returns a streaming reader for the file at path.
func (c *Client) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	fs, err := c.forPath(ctx, path)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return fs.Open(ctx, path)
}

// ListDir returns the immediate children of the directory at path.
func (c *Client) ListDir(ctx context.Context, path string) ([]Entry, error) {
	fs, err := c.forPath(ctx, path)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return fs.ListDir(ctx, path)
}

// IsDir returns true if path names a directory.
func (c *Client) IsDir(ctx context.Context, path string) (bool, error) {
	fs, err := c.forPath(ctx, path)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	return fs.IsDir(ctx, path)
}

// ResolveImagePath joins a dataset image directory and a sample file name.
// gs:// bases keep URL separators regardless of the host OS.
func ResolveImagePath(base, fileName string) string {
	if strings.HasPrefix(base, "gs://") {
		return strings.TrimRight(base, "/") + "/" + path.Clean(fileName)
	}
	return filepath.Join(base, fileName)
}
