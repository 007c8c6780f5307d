// Package embedding defines the vision-encoder capability that turns
// images into feature vectors, plus the HTTP adapter for a remote encoder
// service.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"

	"github.com/visionlens/visionlens/go/skerr"
)

// DefaultDim is the vector length of the default encoder model.
const DefaultDim = 768

// DefaultModelName is recorded with vectors when no model is configured
// explicitly.
const DefaultModelName = "dinov2-base"

// Encoder produces one feature vector per image.
type Encoder interface {
	// Dim returns the vector length produced by Encode.
	Dim() int

	// ModelName identifies the backing model, recorded with each vector.
	ModelName() string

	// Encode returns one vector per image, in input order.
	Encode(ctx context.Context, images []image.Image) ([][]float32, error)
}

// encodeRequest is the wire format posted to the encoder service.
type encodeRequest struct {
	Model  string   `json:"model"`
	Images []string `json:"images"` // base64-encoded JPEG
}

type encodeResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// HTTPEncoder posts JPEG batches to a remote encoder endpoint.
type HTTPEncoder struct {
	client   *http.Client
	endpoint string
	model    string
	dim      int
}

// NewHTTPEncoder returns an Encoder backed by the service at endpoint,
// e.g. http://localhost:9090/embed. Zero model/dim fall back to the
// defaults.
func NewHTTPEncoder(client *http.Client, endpoint, model string, dim int) *HTTPEncoder {
	if model == "" {
		model = DefaultModelName
	}
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HTTPEncoder{client: client, endpoint: endpoint, model: model, dim: dim}
}

// Dim implements Encoder.
func (e *HTTPEncoder) Dim() int {
	return e.dim
}

// ModelName implements Encoder.
func (e *HTTPEncoder) ModelName() string {
	return e.model
}

// Encode implements Encoder.
func (e *HTTPEncoder) Encode(ctx context.Context, images []image.Image) ([][]float32, error) {
	if len(images) == 0 {
		return [][]float32{}, nil
	}
	req := encodeRequest{Model: e.model, Images: make([]string, 0, len(images))}
	for _, img := range images {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			return nil, skerr.Wrapf(err, "encoding image for embedding request")
		}
		req.Images = append(req.Images, base64.StdEncoding.EncodeToString(buf.Bytes()))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, skerr.Wrapf(err, "posting to encoder at %s", e.endpoint)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, skerr.Fmt("encoder at %s returned status %d", e.endpoint, resp.StatusCode)
	}

	var parsed encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, skerr.Wrapf(err, "decoding encoder response")
	}
	if len(parsed.Embeddings) != len(images) {
		return nil, skerr.Fmt("encoder returned %d vectors for %d images", len(parsed.Embeddings), len(images))
	}
	for i, vec := range parsed.Embeddings {
		if len(vec) != e.dim {
			return nil, skerr.Fmt("encoder vector %d has dim %d, want %d", i, len(vec), e.dim)
		}
	}
	return parsed.Embeddings, nil
}

// Confirm HTTPEncoder implements Encoder.
var _ Encoder = (*HTTPEncoder)(nil)
