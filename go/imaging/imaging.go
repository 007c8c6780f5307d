// Package imaging generates and caches WebP thumbnails for dataset images.
//
// Thumbnails live on disk under a cache directory with deterministic names,
// {sample_id}_{width}.webp, so a cache hit skips decoding entirely.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"

	// Decoders for every supported dataset image format.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
)

// Named thumbnail sizes accepted by the API.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"

	// DefaultSize is used when a request names no size, or an unknown one.
	DefaultSize = SizeMedium
)

const webpQuality = 80

// widths maps a named size to the bounding-box edge in pixels.
var widths = map[string]int{
	SizeSmall:  128,
	SizeMedium: 256,
	SizeLarge:  512,
}

// Width returns the pixel width for a named size, falling back to the
// default for unknown names.
func Width(size string) int {
	if w, ok := widths[size]; ok {
		return w
	}
	return widths[DefaultSize]
}

// FileReader reads original image bytes from wherever the dataset lives.
// Satisfied by storage.Client.
type FileReader interface {
	ReadBytes(ctx context.Context, path string) ([]byte, error)
}

// Decode parses image bytes in any supported dataset format. Used by the
// background tasks that feed images to model capabilities.
func Decode(b []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return img, nil
}

// SampleRef identifies one image for batch generation.
type SampleRef struct {
	ID        string
	ImagePath string
}

// Service generates, caches, and serves thumbnails.
type Service struct {
	cacheDir string
	files    FileReader
}

// New returns a Service writing to cacheDir, creating it if needed.
func New(cacheDir string, files FileReader) (*Service, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, skerr.Wrapf(err, "creating thumbnail cache dir %q", cacheDir)
	}
	return &Service{cacheDir: cacheDir, files: files}, nil
}

// CachePath returns the deterministic cache location for a sample + size.
func (s *Service) CachePath(sampleID, size string) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("%s_%d.webp", sampleID, Width(size)))
}

// GetOrGenerate returns the cached thumbnail path, generating it on a miss.
// The thumbnail fits within a square bounding box and is never upscaled.
func (s *Service) GetOrGenerate(ctx context.Context, sampleID, imagePath, size string) (string, error) {
	cachePath := s.CachePath(sampleID, size)
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	b, err := s.files.ReadBytes(ctx, imagePath)
	if err != nil {
		return "", skerr.Wrapf(err, "reading image for sample %s", sampleID)
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return "", skerr.Wrapf(err, "decoding image for sample %s", sampleID)
	}

	px := uint(Width(size))
	thumb := resize.Thumbnail(px, px, img, resize.Lanczos3)

	// EncodeRGB drops any alpha channel, matching the viewer's expectation
	// of opaque thumbnails.
	encoded, err := webp.EncodeRGB(thumb, webpQuality)
	if err != nil {
		return "", skerr.Wrapf(err, "encoding thumbnail for sample %s", sampleID)
	}
	if err := writeAtomically(cachePath, encoded); err != nil {
		return "", skerr.Wrap(err)
	}
	return cachePath, nil
}

// GenerateBatch pre-generates thumbnails for samples, returning how many
// were generated and how many failed. Failures are logged, never
// propagated, since a missing thumbnail is recoverable at serve time.
func (s *Service) GenerateBatch(ctx context.Context, samples []SampleRef, size string) (generated, errs int) {
	for _, sample := range samples {
		if ctx.Err() != nil {
			sklog.Warningf("Thumbnail batch stopped early: %s", ctx.Err())
			return generated, errs
		}
		cachePath := s.CachePath(sample.ID, size)
		if _, err := os.Stat(cachePath); err == nil {
			continue
		}
		if _, err := s.GetOrGenerate(ctx, sample.ID, sample.ImagePath, size); err != nil {
			sklog.Warningf("Failed to generate thumbnail for sample %s: %s", sample.ID, err)
			errs++
			continue
		}
		generated++
	}
	return generated, errs
}

// DeleteThumbnails removes every cached size variant of the given samples.
// Used when a dataset is deleted. Missing files are skipped; other removal
// failures are logged. Returns how many files were removed.
func (s *Service) DeleteThumbnails(sampleIDs []string) int {
	removed := 0
	for _, id := range sampleIDs {
		for size := range widths {
			err := os.Remove(s.CachePath(id, size))
			if err == nil {
				removed++
			} else if !os.IsNotExist(err) {
				sklog.Warningf("Failed to remove thumbnail for sample %s: %s", id, err)
			}
		}
	}
	return removed
}

// writeAtomically writes via a temp file and rename, so concurrent requests
// for the same thumbnail never observe a torn file.
func writeAtomically(dst string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return skerr.Wrap(err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return skerr.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return skerr.Wrap(err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return skerr.Wrap(err)
	}
	return nil
}
