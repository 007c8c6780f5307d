package storage

import (
	"context"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/visionlens/visionlens/go/skerr"
)

// gcsFS is the FileSystem backend for gs://bucket/object paths.
type gcsFS struct {
	client *gstorage.Client
}

// splitGSPath splits gs://bucket/some/object into bucket and object.
func splitGSPath(path string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(path, "gs://")
	if rest == path {
		return "", "", skerr.Fmt("not a gs:// path: %q", path)
	}
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", skerr.Fmt("missing bucket in %q", path)
	}
	if len(parts) == 2 {
		object = strings.TrimSuffix(parts[1], "/")
	}
	return bucket, object, nil
}

// Exists implements FileSystem. A path exists if it names an object or is
// a non-empty prefix.
func (g *gcsFS) Exists(ctx context.Context, path string) (bool, error) {
	bucket, object, err := splitGSPath(path)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	if object == "" {
		// Bare bucket.
		_, err := g.client.Bucket(bucket).Attrs(ctx)
		if err != nil {
			return false, nil
		}
		return true, nil
	}
	if _, err := g.client.Bucket(bucket).Object(object).Attrs(ctx); err == nil {
		return true, nil
	} else if err != gstorage.ErrObjectNotExist {
		return false, skerr.Wrapf(err, "stat gs://%s/%s", bucket, object)
	}
	return g.IsDir(ctx, path)
}

// ReadBytes implements FileSystem.
func (g *gcsFS) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	r, err := g.Open(ctx, path)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer func() {
		_ = r.Close()
	}()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading %s", path)
	}
	return b, nil
}

// Open implements FileSystem.
func (g *gcsFS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, object, err := splitGSPath(path)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, skerr.Wrapf(err, "opening gs://%s/%s", bucket, object)
	}
	return r, nil
}

// ListDir implements FileSystem. Delimiter-style listing: objects directly
// under the prefix become files, sub-prefixes become directories.
func (g *gcsFS) ListDir(ctx context.Context, path string) ([]Entry, error) {
	bucket, object, err := splitGSPath(path)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	prefix := object
	if prefix != "" {
		prefix += "/"
	}
	it := g.client.Bucket(bucket).Objects(ctx, &gstorage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})
	var rv []Entry
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, skerr.Wrapf(err, "listing gs://%s/%s", bucket, prefix)
		}
		if attrs.Prefix != "" {
			rv = append(rv, Entry{
				Name:  strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/"),
				IsDir: true,
			})
			continue
		}
		name := strings.TrimPrefix(attrs.Name, prefix)
		if name == "" {
			// The placeholder object for the directory itself.
			continue
		}
		rv = append(rv, Entry{
			Name: name,
			Size: attrs.Size,
		})
	}
	return rv, nil
}

// IsDir implements FileSystem. A prefix is a directory if anything lives
// under it.
func (g *gcsFS) IsDir(ctx context.Context, path string) (bool, error) {
	bucket, object, err := splitGSPath(path)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	prefix := object
	if prefix != "" {
		prefix += "/"
	}
	it := g.client.Bucket(bucket).Objects(ctx, &gstorage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})
	_, err = it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, skerr.Wrapf(err, "probing gs://%s/%s", bucket, prefix)
	}
	return true, nil
}

var _ FileSystem = (*gcsFS)(nil)
