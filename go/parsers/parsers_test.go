package parsers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/types"
)

// writeFixture writes content under dir, creating parents, and returns the
// absolute path.
func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// drainSamples consumes an iterator to exhaustion, copying each batch
// before the next Next call reuses it.
func drainSamples(t *testing.T, it SampleIterator) []types.Sample {
	t.Helper()
	var rv []types.Sample
	for it.Next(context.Background()) {
		rv = append(rv, it.Batch()...)
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	return rv
}

// drainAnnotations is drainSamples for annotation iterators.
func drainAnnotations(t *testing.T, it AnnotationIterator) []types.Annotation {
	t.Helper()
	var rv []types.Annotation
	for it.Next(context.Background()) {
		rv = append(rv, it.Batch()...)
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	return rv
}

func TestLooksLikeCOCO_ImagesAmongFirstKeys_ReturnsTrue(t *testing.T) {
	doc := `{"info": {"year": 2024}, "licenses": [], "images": [{"id": 1}]}`
	assert.True(t, LooksLikeCOCO(strings.NewReader(doc)))
}

func TestLooksLikeCOCO_StopsBeforeReadingTheWholeFile(t *testing.T) {
	// Only the head of the file is available, as when sniffing a huge
	// annotation file.
	head := `{"images": [{"id": 1}, {"id": 2}, {"id":`
	assert.True(t, LooksLikeCOCO(strings.NewReader(head)))
}

func TestLooksLikeCOCO_NestedImagesKeyDoesNotCount(t *testing.T) {
	doc := `{"meta": {"images": []}, "annotations": []}`
	assert.False(t, LooksLikeCOCO(strings.NewReader(doc)))
}

func TestLooksLikeCOCO_RejectsNonObjectDocuments(t *testing.T) {
	assert.False(t, LooksLikeCOCO(strings.NewReader(`[{"images": []}]`)))
	assert.False(t, LooksLikeCOCO(strings.NewReader(`"images"`)))
	assert.False(t, LooksLikeCOCO(strings.NewReader(``)))
}

func TestLooksLikeCOCO_GivesUpAfterTheKeyCap(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{`)
	for i := 0; i < cocoPeekKeys; i++ {
		fmt.Fprintf(&b, `"k%d": %d, `, i, i)
	}
	b.WriteString(`"images": []}`)
	assert.False(t, LooksLikeCOCO(strings.NewReader(b.String())))
}

func TestLooksLikeClassificationRecord_AcceptsAliasSpellings(t *testing.T) {
	assert.True(t, LooksLikeClassificationRecord([]byte(`{"filename": "a.jpg", "label": "cat"}`)))
	assert.True(t, LooksLikeClassificationRecord([]byte(`{"image": "a.jpg", "class": "cat"}`)))
	assert.True(t, LooksLikeClassificationRecord([]byte(`{"path": "a.jpg", "category": "cat"}`)))
}

func TestLooksLikeClassificationRecord_RejectsDetectionShapes(t *testing.T) {
	assert.False(t, LooksLikeClassificationRecord([]byte(`{"filename": "a.jpg", "label": "cat", "bbox": [1, 2, 3, 4]}`)))
	assert.False(t, LooksLikeClassificationRecord([]byte(`{"filename": "a.jpg", "label": "cat", "annotations": []}`)))
}

func TestLooksLikeClassificationRecord_RequiresBothAliases(t *testing.T) {
	assert.False(t, LooksLikeClassificationRecord([]byte(`{"filename": "a.jpg"}`)))
	assert.False(t, LooksLikeClassificationRecord([]byte(`{"label": "cat"}`)))
	assert.False(t, LooksLikeClassificationRecord([]byte(`not json`)))
}

func TestRawScalar_KeepsNumericLiteralsAndUnquotesStrings(t *testing.T) {
	assert.Equal(t, "42", rawScalar(json.RawMessage(`42`)))
	assert.Equal(t, "4.0", rawScalar(json.RawMessage(`4.0`)))
	assert.Equal(t, "img_007", rawScalar(json.RawMessage(`"img_007"`)))
	assert.Equal(t, `say "hi"`, rawScalar(json.RawMessage(`"say \"hi\""`)))
}

func TestFirstField_HonorsAliasOrder(t *testing.T) {
	record := map[string]json.RawMessage{
		"path":      json.RawMessage(`"b.jpg"`),
		"file_name": json.RawMessage(`"a.jpg"`),
	}
	raw, ok := firstField(record, fileNameKeys)
	require.True(t, ok)
	assert.Equal(t, "a.jpg", rawScalar(raw))

	_, ok = firstField(record, labelKeys)
	assert.False(t, ok)
}
