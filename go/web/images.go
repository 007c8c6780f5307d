package web

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/imaging"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/util"
)

const sizeOriginal = "original"

// imagesApi streams sample images, either a cached WebP thumbnail or the
// untouched original.
type imagesApi struct {
	datasets datasets.Store
	samples  samples.Store
	files    *storage.Client
	thumbs   *imaging.Service
}

func newImagesApi(ds datasets.Store, ss samples.Store, files *storage.Client, thumbs *imaging.Service) imagesApi {
	return imagesApi{datasets: ds, samples: ss, files: files, thumbs: thumbs}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a imagesApi) RegisterHandlers(router *chi.Mux) {
	router.Get("/images/{datasetID}/{sampleID}", a.imageHandler)
}

func (a imagesApi) imageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	datasetID := chi.URLParam(r, "datasetID")
	sampleID := chi.URLParam(r, "sampleID")
	size := r.URL.Query().Get("size")
	if size == "" {
		size = imaging.DefaultSize
	}

	sample, err := a.samples.Get(ctx, datasetID, sampleID)
	if err != nil {
		reportError(w, err)
		return
	}
	// Split imports record a per-sample image dir; plain datasets use the
	// dataset-level one.
	dir := sample.ImageDir
	if dir == "" {
		ds, err := a.datasets.Get(ctx, datasetID)
		if err != nil {
			reportError(w, err)
			return
		}
		dir = ds.ImageDir
	}
	imagePath := storage.ResolveImagePath(dir, sample.FileName)

	if size == sizeOriginal {
		a.serveOriginal(w, r, imagePath, sample.FileName)
		return
	}

	thumbPath, err := a.thumbs.GetOrGenerate(ctx, sampleID, imagePath, size)
	if err != nil {
		reportError(w, a.missingOriginal(r, imagePath, err))
		return
	}
	if sample.ThumbnailPath == "" {
		// Recorded lazily so pre-existing datasets pick up paths as they
		// are browsed. Serving still works if this write fails.
		if err := a.samples.SetThumbnail(ctx, datasetID, sampleID, thumbPath, 0, 0); err != nil {
			sklog.Warningf("Failed to record thumbnail path for sample %s: %s", sampleID, err)
		}
	}
	w.Header().Set(contentTypeHeader, "image/webp")
	http.ServeFile(w, r, thumbPath)
}

func (a imagesApi) serveOriginal(w http.ResponseWriter, r *http.Request, imagePath, fileName string) {
	ctx := r.Context()
	rc, err := a.files.Open(ctx, imagePath)
	if err != nil {
		reportError(w, a.missingOriginal(r, imagePath, err))
		return
	}
	defer util.Close(rc)
	w.Header().Set(contentTypeHeader, contentTypeForImage(fileName))
	if _, err := io.Copy(w, rc); err != nil {
		sklog.Warningf("Failed to stream image %s: %s", imagePath, err)
	}
}

// missingOriginal turns read failures for absent source files into NotFound;
// everything else passes through untouched.
func (a imagesApi) missingOriginal(r *http.Request, imagePath string, err error) error {
	ok, existsErr := a.files.Exists(r.Context(), imagePath)
	if existsErr == nil && !ok {
		return apperror.New(apperror.NotFound, "Image file not found: %s", imagePath)
	}
	return err
}

func contentTypeForImage(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
