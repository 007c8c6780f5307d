// Package vlmtag defines the vision-language tagging capability: a fixed
// set of prompt dimensions, the controlled vocabulary of acceptable
// answers, and the HTTP adapter for a remote model service.
//
// Answers outside the vocabulary are discarded, so a chatty model can
// never pollute the tag namespace.
package vlmtag

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"strings"

	"github.com/visionlens/visionlens/go/skerr"
)

// Dimensions lists the tag dimensions in prompt order.
var Dimensions = []string{"lighting", "clarity", "setting", "weather", "density"}

// Prompts maps each dimension to the question posed to the model.
var Prompts = map[string]string{
	"lighting": "Describe the lighting: is this image dark, dim, bright, or normal? One word only.",
	"clarity":  "Is this image blurry, sharp, or noisy? One word only.",
	"setting":  "Is this scene indoor or outdoor? One word only.",
	"weather":  "What weather or time: sunny, cloudy, rainy, foggy, snowy, night, or day? One word.",
	"density":  "How crowded is this scene: empty, sparse, moderate, or crowded? One word only.",
}

// validTags is the controlled vocabulary per dimension.
var validTags = map[string]map[string]bool{
	"lighting": {"dark": true, "dim": true, "bright": true, "normal": true},
	"clarity":  {"blurry": true, "sharp": true, "noisy": true},
	"setting":  {"indoor": true, "outdoor": true},
	"weather":  {"sunny": true, "cloudy": true, "rainy": true, "foggy": true, "snowy": true, "night": true, "day": true},
	"density":  {"empty": true, "sparse": true, "moderate": true, "crowded": true},
}

// Tagger answers the tag prompts about one image. Implementations may
// answer a subset of the prompts.
type Tagger interface {
	// Tag returns the model's raw answer per dimension.
	Tag(ctx context.Context, img image.Image, prompts map[string]string) (map[string]string, error)
}

// Normalize reduces a raw model answer to vocabulary form: lowercased,
// trimmed, with a trailing period stripped.
func Normalize(answer string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(answer)), ".")
}

// Validate normalizes answer and reports whether it belongs to the
// dimension's vocabulary.
func Validate(dimension, answer string) (string, bool) {
	norm := Normalize(answer)
	return norm, validTags[dimension][norm]
}

// ValidTagsFor filters raw answers against the vocabulary and returns the
// surviving tags in dimension order.
func ValidTagsFor(answers map[string]string) []string {
	tags := make([]string, 0, len(Dimensions))
	for _, dim := range Dimensions {
		answer, ok := answers[dim]
		if !ok {
			continue
		}
		if norm, valid := Validate(dim, answer); valid {
			tags = append(tags, norm)
		}
	}
	return tags
}

// tagRequest is the wire format posted to the model service. The image is
// uploaded once and every prompt runs against that single encoding.
type tagRequest struct {
	Image   string            `json:"image"` // base64-encoded JPEG
	Prompts map[string]string `json:"prompts"`
}

type tagResponse struct {
	Answers map[string]string `json:"answers"`
}

// HTTPTagger posts images and prompts to a remote model endpoint.
type HTTPTagger struct {
	client   *http.Client
	endpoint string
}

// NewHTTPTagger returns a Tagger backed by the service at endpoint,
// e.g. http://localhost:9091/tag.
func NewHTTPTagger(client *http.Client, endpoint string) *HTTPTagger {
	return &HTTPTagger{client: client, endpoint: endpoint}
}

// Tag implements Tagger.
func (t *HTTPTagger) Tag(ctx context.Context, img image.Image, prompts map[string]string) (map[string]string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, skerr.Wrapf(err, "encoding image for tag request")
	}
	body, err := json.Marshal(tagRequest{
		Image:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Prompts: prompts,
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, skerr.Wrapf(err, "posting to tagger at %s", t.endpoint)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, skerr.Fmt("tagger at %s returned status %d", t.endpoint, resp.StatusCode)
	}

	var parsed tagResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, skerr.Wrapf(err, "decoding tagger response")
	}
	return parsed.Answers, nil
}

// Confirm HTTPTagger implements Tagger.
var _ Tagger = (*HTTPTagger)(nil)
