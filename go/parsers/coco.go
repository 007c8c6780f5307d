package parsers

import (
	"context"
	"encoding/json"
	"io"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// COCOParser streams a COCO annotation file. The file is read three times
// at most (categories, images, annotations), each pass token by token.
type COCOParser struct {
	fs        *storage.Client
	batchSize int
}

// NewCOCO returns a COCOParser reading through the given storage client.
func NewCOCO(fs *storage.Client) *COCOParser {
	return &COCOParser{fs: fs, batchSize: groundTruthBatchSize}
}

// cocoImage is one entry of the top-level images array.
type cocoImage struct {
	ID       json.RawMessage `json:"id"`
	FileName string          `json:"file_name"`
	Width    float64         `json:"width"`
	Height   float64         `json:"height"`
}

// cocoAnnotation is one entry of the top-level annotations array.
type cocoAnnotation struct {
	ID         json.RawMessage `json:"id"`
	ImageID    json.RawMessage `json:"image_id"`
	CategoryID *int64          `json:"category_id"`
	Bbox       []float64       `json:"bbox"`
	IsCrowd    int             `json:"iscrowd"`
}

// cocoCategory is one entry of the top-level categories array.
type cocoCategory struct {
	ID            *int64 `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory"`
}

// Categories extracts the category registry. A missing categories key or a
// truncated file yields whatever was readable, never an error; only a file
// that cannot be opened fails.
func (p *COCOParser) Categories(ctx context.Context, path string) ([]types.Category, error) {
	rc, err := p.fs.Open(ctx, path)
	if err != nil {
		return nil, apperror.Wrap(apperror.BadInput, skerr.Wrap(err))
	}
	defer func() {
		_ = rc.Close()
	}()
	dec := json.NewDecoder(rc)
	found, err := seekTopLevelArray(dec, "categories")
	if err != nil {
		sklog.Warningf("Could not parse categories from %s: %s", path, err)
		return []types.Category{}, nil
	}
	if !found {
		sklog.Warningf("No categories key in %s", path)
		return []types.Category{}, nil
	}
	rv := []types.Category{}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			sklog.Warningf("Could not parse categories from %s: %s", path, err)
			return rv, nil
		}
		var c cocoCategory
		if err := json.Unmarshal(raw, &c); err != nil || c.ID == nil || c.Name == "" {
			sklog.Warningf("Skipping malformed category in %s", path)
			continue
		}
		rv = append(rv, types.Category{
			ID:            *c.ID,
			Name:          c.Name,
			Supercategory: c.Supercategory,
		})
	}
	return rv, nil
}

// Images returns an iterator over the images array. split may be empty.
func (p *COCOParser) Images(path, datasetID, split string) SampleIterator {
	return &cocoSampleIterator{parser: p, path: path, datasetID: datasetID, split: split}
}

// Annotations returns an iterator over the annotations array. categories
// maps the file's numeric ids to names; unknown ids become "unknown".
func (p *COCOParser) Annotations(path, datasetID string, categories map[int64]string) AnnotationIterator {
	return &cocoAnnotationIterator{parser: p, path: path, datasetID: datasetID, categories: categories}
}

// CategoryMap converts a category list into the id-to-name lookup the
// annotation pass uses.
func CategoryMap(cats []types.Category) map[int64]string {
	rv := make(map[int64]string, len(cats))
	for _, c := range cats {
		rv[c.ID] = c.Name
	}
	return rv
}

// seekTopLevelArray walks the top-level object keys until it finds the
// named key and consumes its opening bracket. Returns false if the key is
// absent.
func seekTopLevelArray(dec *json.Decoder, key string) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, skerr.Wrapf(err, "reading document start")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return false, skerr.Fmt("not a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return false, skerr.Wrapf(err, "reading object key")
		}
		name, ok := tok.(string)
		if !ok {
			return false, skerr.Fmt("malformed object key")
		}
		if name != key {
			if err := skipValue(dec); err != nil {
				return false, skerr.Wrapf(err, "skipping %q", name)
			}
			continue
		}
		tok, err = dec.Token()
		if err != nil {
			return false, skerr.Wrapf(err, "reading %q value", key)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return false, skerr.Fmt("%q is not an array", key)
		}
		return true, nil
	}
	return false, nil
}

// cocoSampleIterator streams the images array in batches.
type cocoSampleIterator struct {
	parser    *COCOParser
	path      string
	datasetID string
	split     string

	rc      io.ReadCloser
	dec     *json.Decoder
	started bool
	done    bool
	batch   []types.Sample
	err     error
}

// Next implements SampleIterator.
func (it *cocoSampleIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done {
		return false
	}
	if !it.started {
		it.started = true
		rc, err := it.parser.fs.Open(ctx, it.path)
		if err != nil {
			it.err = apperror.Wrap(apperror.BadInput, skerr.Wrap(err))
			return false
		}
		it.rc = rc
		it.dec = json.NewDecoder(rc)
		found, err := seekTopLevelArray(it.dec, "images")
		if err != nil {
			it.fail(err)
			return false
		}
		if !found {
			it.finish()
			return false
		}
	}
	it.batch = it.batch[:0]
	for len(it.batch) < it.parser.batchSize {
		if !it.dec.More() {
			it.finish()
			break
		}
		var raw json.RawMessage
		if err := it.dec.Decode(&raw); err != nil {
			it.fail(skerr.Wrapf(err, "reading images array"))
			break
		}
		var img cocoImage
		if err := json.Unmarshal(raw, &img); err != nil || len(img.ID) == 0 || img.FileName == "" {
			sklog.Warningf("Skipping malformed image record in %s", it.path)
			continue
		}
		if img.Width == 0 || img.Height == 0 {
			sklog.Warningf("Image %s missing width/height, defaulting to 0", rawScalar(img.ID))
		}
		it.batch = append(it.batch, types.Sample{
			DatasetID: it.datasetID,
			ID:        rawScalar(img.ID),
			FileName:  img.FileName,
			Width:     int64(img.Width),
			Height:    int64(img.Height),
			Split:     it.split,
		})
	}
	return len(it.batch) > 0
}

// Batch implements SampleIterator.
func (it *cocoSampleIterator) Batch() []types.Sample {
	return it.batch
}

// Err implements SampleIterator.
func (it *cocoSampleIterator) Err() error {
	return it.err
}

// Close implements SampleIterator.
func (it *cocoSampleIterator) Close() error {
	if it.rc == nil {
		return nil
	}
	rc := it.rc
	it.rc = nil
	return rc.Close()
}

func (it *cocoSampleIterator) finish() {
	it.done = true
	_ = it.Close()
}

func (it *cocoSampleIterator) fail(err error) {
	it.err = apperror.Wrap(apperror.ParseError, err)
	_ = it.Close()
}

// cocoAnnotationIterator streams the annotations array in batches.
type cocoAnnotationIterator struct {
	parser     *COCOParser
	path       string
	datasetID  string
	categories map[int64]string

	rc      io.ReadCloser
	dec     *json.Decoder
	started bool
	done    bool
	batch   []types.Annotation
	err     error
}

// Next implements AnnotationIterator.
func (it *cocoAnnotationIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done {
		return false
	}
	if !it.started {
		it.started = true
		rc, err := it.parser.fs.Open(ctx, it.path)
		if err != nil {
			it.err = apperror.Wrap(apperror.BadInput, skerr.Wrap(err))
			return false
		}
		it.rc = rc
		it.dec = json.NewDecoder(rc)
		found, err := seekTopLevelArray(it.dec, "annotations")
		if err != nil {
			it.fail(err)
			return false
		}
		if !found {
			it.finish()
			return false
		}
	}
	it.batch = it.batch[:0]
	for len(it.batch) < it.parser.batchSize {
		if !it.dec.More() {
			it.finish()
			break
		}
		var raw json.RawMessage
		if err := it.dec.Decode(&raw); err != nil {
			it.fail(skerr.Wrapf(err, "reading annotations array"))
			break
		}
		var ann cocoAnnotation
		if err := json.Unmarshal(raw, &ann); err != nil || len(ann.ID) == 0 || len(ann.ImageID) == 0 {
			sklog.Warningf("Skipping malformed annotation record in %s", it.path)
			continue
		}
		bbox := ann.Bbox
		if len(bbox) < 4 {
			bbox = []float64{0, 0, 0, 0}
		}
		categoryName := "unknown"
		if ann.CategoryID != nil {
			if name, ok := it.categories[*ann.CategoryID]; ok {
				categoryName = name
			}
		}
		it.batch = append(it.batch, types.Annotation{
			DatasetID:    it.datasetID,
			ID:           rawScalar(ann.ID),
			SampleID:     rawScalar(ann.ImageID),
			CategoryName: categoryName,
			BboxX:        bbox[0],
			BboxY:        bbox[1],
			BboxW:        bbox[2],
			BboxH:        bbox[3],
			Area:         bbox[2] * bbox[3],
			IsCrowd:      ann.IsCrowd != 0,
			Source:       types.GroundTruth,
		})
	}
	return len(it.batch) > 0
}

// Batch implements AnnotationIterator.
func (it *cocoAnnotationIterator) Batch() []types.Annotation {
	return it.batch
}

// Err implements AnnotationIterator.
func (it *cocoAnnotationIterator) Err() error {
	return it.err
}

// Close implements AnnotationIterator.
func (it *cocoAnnotationIterator) Close() error {
	if it.rc == nil {
		return nil
	}
	rc := it.rc
	it.rc = nil
	return rc.Close()
}

func (it *cocoAnnotationIterator) finish() {
	it.done = true
	_ = it.Close()
}

func (it *cocoAnnotationIterator) fail(err error) {
	it.err = apperror.Wrap(apperror.ParseError, err)
	_ = it.Close()
}

var _ SampleIterator = (*cocoSampleIterator)(nil)
var _ AnnotationIterator = (*cocoAnnotationIterator)(nil)
