package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 8, 8))
}

func TestNewHTTPEncoder_DefaultsModelAndDim(t *testing.T) {
	e := NewHTTPEncoder(http.DefaultClient, "http://enc/embed", "", 0)
	assert.Equal(t, DefaultModelName, e.ModelName())
	assert.Equal(t, DefaultDim, e.Dim())

	e = NewHTTPEncoder(http.DefaultClient, "http://enc/embed", "clip-vit", 512)
	assert.Equal(t, "clip-vit", e.ModelName())
	assert.Equal(t, 512, e.Dim())
}

func TestEncode_PostsJPEGBatchAndParsesVectors(t *testing.T) {
	var gotReq encodeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		resp := encodeResponse{Embeddings: [][]float32{{1, 0}, {0, 1}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	e := NewHTTPEncoder(server.Client(), server.URL, "test-model", 2)
	got, err := e.Encode(context.Background(), []image.Image{testImage(), testImage()})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, got)

	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Images, 2)
	// Payload images are valid base64 JPEG.
	b, err := base64.StdEncoding.DecodeString(gotReq.Images[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, b[:2])
}

func TestEncode_EmptyBatch_SkipsRequest(t *testing.T) {
	e := NewHTTPEncoder(http.DefaultClient, "http://unreachable.invalid", "m", 2)
	got, err := e.Encode(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncode_NonOKStatus_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	e := NewHTTPEncoder(server.Client(), server.URL, "m", 2)
	_, err := e.Encode(context.Background(), []image.Image{testImage()})
	assert.Error(t, err)
}

func TestEncode_CountMismatch_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(encodeResponse{Embeddings: [][]float32{{1, 0}}}))
	}))
	defer server.Close()

	e := NewHTTPEncoder(server.Client(), server.URL, "m", 2)
	_, err := e.Encode(context.Background(), []image.Image{testImage(), testImage()})
	assert.Error(t, err)
}

func TestEncode_DimMismatch_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(encodeResponse{Embeddings: [][]float32{{1, 0, 0}}}))
	}))
	defer server.Close()

	e := NewHTTPEncoder(server.Client(), server.URL, "m", 2)
	_, err := e.Encode(context.Background(), []image.Image{testImage()})
	assert.Error(t, err)
}
