// Package scanner detects importable dataset layouts under a directory so
// users can point the importer at a folder without spelling out paths.
//
// Five layouts are probed in priority order:
//
//  1. Classification split directories: train/, val/, test/ (or their
//     aliases) each holding a JSONL label file next to its images.
//  2. Flat classification: a JSONL at root plus images/ or co-located
//     images.
//  3. Roboflow-style COCO: split directories each holding a COCO JSON
//     next to its images.
//  4. Standard COCO: an annotations/ directory of per-split JSON paired
//     with images/<split>/ or root-level <split>/ directories.
//  5. Flat COCO: a single COCO JSON at root plus images/ or co-located
//     images.
//
// Classification beats COCO: headers decide, so the first layout whose
// file peek succeeds wins and the result is deterministic. Scanning is
// best-effort; unreadable corners are skipped, never fatal.
package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/parsers"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// maxPeekSize is the largest annotation file the scanner will inspect.
const maxPeekSize = 500 * 1024 * 1024

// classificationPeekLines is how many non-empty JSONL lines must parse as
// classification records for a file to count as classification-like.
const classificationPeekLines = 5

// peekLineBytes bounds one line during the classification peek. A minified
// COCO file is one enormous line; giving up on it is the point.
const peekLineBytes = 1024 * 1024

// imageExtensions are the file extensions counted as images.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tiff": true, ".webp": true,
}

// splitAliases maps directory names and filename keywords to canonical
// split names, in probe order. Exact directory names match via aliasFor;
// annotation filenames are probed for the first contained keyword.
var splitAliases = []struct {
	keyword   string
	canonical string
}{
	{"train", "train"}, {"train2017", "train"}, {"train2014", "train"}, {"training", "train"},
	{"val", "val"}, {"val2017", "val"}, {"val2014", "val"}, {"valid", "val"}, {"validation", "val"},
	{"test", "test"}, {"test2017", "test"}, {"test2014", "test"}, {"testing", "test"},
}

// aliasFor returns the canonical split for an exact directory name.
func aliasFor(dirName string) (string, bool) {
	lower := strings.ToLower(dirName)
	for _, a := range splitAliases {
		if a.keyword == lower {
			return a.canonical, true
		}
	}
	return "", false
}

// DetectedSplit is one importable split found under the scan root.
type DetectedSplit struct {
	Name               string `json:"name"`
	AnnotationPath     string `json:"annotation_path"`
	ImageDir           string `json:"image_dir"`
	ImageCount         int    `json:"image_count"`
	AnnotationFileSize int64  `json:"annotation_file_size"`
}

// Result is the outcome of one scan. Splits may be empty when nothing
// importable was found; Warnings carry the non-fatal issues seen on the
// way.
type Result struct {
	RootPath    string          `json:"root_path"`
	DatasetName string          `json:"dataset_name"`
	Format      types.Format    `json:"format"`
	Splits      []DetectedSplit `json:"splits"`
	Warnings    []string        `json:"warnings"`
}

// FS is the filesystem slice the scanner walks with. storage.Client
// implements it for both local and gs:// roots.
type FS interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	ListDir(ctx context.Context, path string) ([]storage.Entry, error)
	IsDir(ctx context.Context, path string) (bool, error)
}

// Scanner probes directory trees for the known layouts.
type Scanner struct {
	fs FS
}

// New returns a Scanner reading through fs.
func New(fs FS) *Scanner {
	return &Scanner{fs: fs}
}

// Scan inspects rootPath and returns every importable split found.
// Returns a BadInput error when rootPath does not name a directory.
func (s *Scanner) Scan(ctx context.Context, rootPath string) (Result, error) {
	root := resolveRoot(rootPath)
	if !s.isDir(ctx, root) {
		return Result{}, apperror.New(apperror.BadInput, "Path is not a directory: %s", rootPath)
	}

	warnings := []string{}
	format := types.FormatClassificationJSONL

	splits := s.classificationSplitDirs(ctx, root)
	if len(splits) == 0 {
		splits = s.flatClassification(ctx, root, &warnings)
	}
	if len(splits) == 0 {
		format = types.FormatCOCO
		splits = s.cocoSplitDirs(ctx, root, &warnings)
	}
	if len(splits) == 0 {
		splits = s.cocoAnnotationsDir(ctx, root, &warnings)
	}
	if len(splits) == 0 {
		splits = s.flatCOCO(ctx, root, &warnings)
	}
	if splits == nil {
		splits = []DetectedSplit{}
	}

	return Result{
		RootPath:    root,
		DatasetName: baseName(root),
		Format:      format,
		Splits:      splits,
		Warnings:    warnings,
	}, nil
}

// classificationSplitDirs probes layout 1: split directories holding a
// JSONL label file next to their images.
func (s *Scanner) classificationSplitDirs(ctx context.Context, root string) []DetectedSplit {
	splitDirs := s.detectSplitDirs(ctx, root)
	if len(splitDirs) == 0 {
		return nil
	}

	splits := []DetectedSplit{}
	for _, canonical := range sortedKeys(splitDirs) {
		dir := splitDirs[canonical]
		for _, e := range s.list(ctx, dir) {
			if e.IsDir || !isAnnotationExt(e.Name, ".jsonl", ".json") {
				continue
			}
			p := storage.ResolveImagePath(dir, e.Name)
			if !s.isClassificationFile(ctx, p) {
				continue
			}
			if n := s.countImages(ctx, dir); n > 0 {
				splits = append(splits, DetectedSplit{
					Name:               canonical,
					AnnotationPath:     p,
					ImageDir:           dir,
					ImageCount:         n,
					AnnotationFileSize: e.Size,
				})
			}
			// First classification file per split dir wins.
			break
		}
	}
	return splits
}

// flatClassification probes layout 2: a JSONL at root plus images/ or
// co-located images.
func (s *Scanner) flatClassification(ctx context.Context, root string, warnings *[]string) []DetectedSplit {
	var found string
	var foundSize int64
	for _, e := range s.list(ctx, root) {
		if e.IsDir || !isAnnotationExt(e.Name, ".jsonl", ".json") {
			continue
		}
		p := storage.ResolveImagePath(root, e.Name)
		if s.isClassificationFile(ctx, p) {
			found, foundSize = p, e.Size
			break
		}
	}
	if found == "" {
		return nil
	}

	imageDir := storage.ResolveImagePath(root, "images")
	if !s.isDir(ctx, imageDir) {
		imageDir = root
	}
	count := s.countImages(ctx, imageDir)
	if count == 0 {
		*warnings = append(*warnings, fmt.Sprintf("Classification annotation found (%s) but no images in %s", baseName(found), imageDir))
		return nil
	}

	return []DetectedSplit{{
		Name:               baseName(root),
		AnnotationPath:     found,
		ImageDir:           imageDir,
		ImageCount:         count,
		AnnotationFileSize: foundSize,
	}}
}

// cocoSplitDirs probes layout 3: split directories holding a COCO JSON
// next to their images.
func (s *Scanner) cocoSplitDirs(ctx context.Context, root string, warnings *[]string) []DetectedSplit {
	splitDirs := s.detectSplitDirs(ctx, root)
	if len(splitDirs) == 0 {
		return nil
	}

	splits := []DetectedSplit{}
	for _, canonical := range sortedKeys(splitDirs) {
		dir := splitDirs[canonical]
		for _, e := range s.list(ctx, dir) {
			if e.IsDir || !isAnnotationExt(e.Name, ".json") {
				continue
			}
			p := storage.ResolveImagePath(dir, e.Name)
			if !s.isCOCOFile(ctx, p, e.Size) {
				*warnings = append(*warnings, fmt.Sprintf("Found JSON but not valid COCO: %s", p))
				continue
			}
			if n := s.countImages(ctx, dir); n > 0 {
				splits = append(splits, DetectedSplit{
					Name:               canonical,
					AnnotationPath:     p,
					ImageDir:           dir,
					ImageCount:         n,
					AnnotationFileSize: e.Size,
				})
			}
			// First valid COCO file per split dir wins.
			break
		}
	}
	return splits
}

// cocoAnnotationsDir probes layout 4: annotations/ JSON files paired with
// images/<split>/ or root-level split directories.
func (s *Scanner) cocoAnnotationsDir(ctx context.Context, root string, warnings *[]string) []DetectedSplit {
	annDir := storage.ResolveImagePath(root, "annotations")
	if !s.isDir(ctx, annDir) {
		return nil
	}

	type cocoFile struct {
		name string
		path string
		size int64
	}
	cocoFiles := []cocoFile{}
	for _, e := range s.list(ctx, annDir) {
		if e.IsDir || !isAnnotationExt(e.Name, ".json") {
			continue
		}
		p := storage.ResolveImagePath(annDir, e.Name)
		if s.isCOCOFile(ctx, p, e.Size) {
			cocoFiles = append(cocoFiles, cocoFile{name: e.Name, path: p, size: e.Size})
		} else {
			*warnings = append(*warnings, fmt.Sprintf("Found JSON but not valid COCO: %s", p))
		}
	}
	if len(cocoFiles) == 0 {
		return nil
	}

	// Image directory candidates: images/<split>, a flat images/, or
	// root-level split directories.
	imageDirs := map[string]string{}
	imagesRoot := storage.ResolveImagePath(root, "images")
	if s.isDir(ctx, imagesRoot) {
		for _, sub := range s.list(ctx, imagesRoot) {
			if !sub.IsDir {
				continue
			}
			if canonical, ok := aliasFor(sub.Name); ok {
				if _, taken := imageDirs[canonical]; !taken {
					imageDirs[canonical] = storage.ResolveImagePath(imagesRoot, sub.Name)
				}
			}
		}
		if len(imageDirs) == 0 {
			imageDirs["_flat"] = imagesRoot
		}
	}
	for _, sub := range s.list(ctx, root) {
		if !sub.IsDir || strings.EqualFold(sub.Name, "annotations") {
			continue
		}
		if canonical, ok := aliasFor(sub.Name); ok {
			if _, taken := imageDirs[canonical]; !taken {
				imageDirs[canonical] = storage.ResolveImagePath(root, sub.Name)
			}
		}
	}

	// Match annotation files to image directories by split keyword in the
	// filename, falling back to a flat images/ for unkeyed files.
	sort.Slice(cocoFiles, func(i, j int) bool { return cocoFiles[i].name < cocoFiles[j].name })
	splits := []DetectedSplit{}
	for _, f := range cocoFiles {
		stem := strings.ToLower(strings.TrimSuffix(f.name, path.Ext(f.name)))
		var matchedSplit, matchedDir string
		for _, a := range splitAliases {
			if strings.Contains(stem, a.keyword) {
				if dir, ok := imageDirs[a.canonical]; ok {
					matchedSplit, matchedDir = a.canonical, dir
					break
				}
			}
		}
		if matchedSplit == "" {
			if dir, ok := imageDirs["_flat"]; ok {
				matchedSplit, matchedDir = baseName(root), dir
			}
		}
		if matchedSplit == "" {
			continue
		}
		splits = append(splits, DetectedSplit{
			Name:               matchedSplit,
			AnnotationPath:     f.path,
			ImageDir:           matchedDir,
			ImageCount:         s.countImages(ctx, matchedDir),
			AnnotationFileSize: f.size,
		})
	}
	return splits
}

// flatCOCO probes layout 5: a single COCO JSON at root plus images/ or
// co-located images.
func (s *Scanner) flatCOCO(ctx context.Context, root string, warnings *[]string) []DetectedSplit {
	var found string
	var foundSize int64
	for _, e := range s.list(ctx, root) {
		if e.IsDir || !isAnnotationExt(e.Name, ".json") {
			continue
		}
		p := storage.ResolveImagePath(root, e.Name)
		if s.isCOCOFile(ctx, p, e.Size) {
			found, foundSize = p, e.Size
			break
		}
		*warnings = append(*warnings, fmt.Sprintf("Found JSON but not valid COCO: %s", p))
	}
	if found == "" {
		return nil
	}

	imageDir := storage.ResolveImagePath(root, "images")
	if !s.isDir(ctx, imageDir) {
		imageDir = root
	}
	count := s.countImages(ctx, imageDir)
	if count == 0 {
		*warnings = append(*warnings, fmt.Sprintf("COCO annotation found (%s) but no images in %s", baseName(found), imageDir))
		return nil
	}

	return []DetectedSplit{{
		Name:               baseName(root),
		AnnotationPath:     found,
		ImageDir:           imageDir,
		ImageCount:         count,
		AnnotationFileSize: foundSize,
	}}
}

// detectSplitDirs maps canonical split names to subdirectories of root.
// Listings are name-sorted, so train/ beats training/ for the same
// canonical name.
func (s *Scanner) detectSplitDirs(ctx context.Context, root string) map[string]string {
	out := map[string]string{}
	for _, e := range s.list(ctx, root) {
		if !e.IsDir {
			continue
		}
		canonical, ok := aliasFor(e.Name)
		if !ok {
			continue
		}
		if _, taken := out[canonical]; !taken {
			out[canonical] = storage.ResolveImagePath(root, e.Name)
		}
	}
	return out
}

// isCOCOFile peeks at the file's top-level keys. Files over maxPeekSize
// are never inspected.
func (s *Scanner) isCOCOFile(ctx context.Context, p string, size int64) bool {
	if size > maxPeekSize {
		sklog.Warningf("Skipping header peek of %s: %s exceeds the %s limit", p, humanize.Bytes(uint64(size)), humanize.Bytes(maxPeekSize))
		return false
	}
	rc, err := s.fs.Open(ctx, p)
	if err != nil {
		return false
	}
	defer func() {
		_ = rc.Close()
	}()
	return parsers.LooksLikeCOCO(rc)
}

// isClassificationFile peeks at the first few non-empty lines. Every line
// read must be a classification record and at least one is required.
func (s *Scanner) isClassificationFile(ctx context.Context, p string) bool {
	rc, err := s.fs.Open(ctx, p)
	if err != nil {
		return false
	}
	defer func() {
		_ = rc.Close()
	}()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), peekLineBytes)
	seen := 0
	for seen < classificationPeekLines && sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !parsers.LooksLikeClassificationRecord([]byte(line)) {
			return false
		}
		seen++
	}
	return seen > 0
}

// countImages counts image files directly inside dir, non-recursively.
func (s *Scanner) countImages(ctx context.Context, dir string) int {
	n := 0
	for _, e := range s.list(ctx, dir) {
		if !e.IsDir && imageExtensions[strings.ToLower(path.Ext(e.Name))] {
			n++
		}
	}
	return n
}

// list returns dir's entries, or nothing when the directory cannot be
// read.
func (s *Scanner) list(ctx context.Context, dir string) []storage.Entry {
	entries, err := s.fs.ListDir(ctx, dir)
	if err != nil {
		return nil
	}
	return entries
}

func (s *Scanner) isDir(ctx context.Context, p string) bool {
	ok, err := s.fs.IsDir(ctx, p)
	return err == nil && ok
}

// isAnnotationExt reports whether name carries one of the extensions.
func isAnnotationExt(name string, exts ...string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// resolveRoot absolutises local paths; object-store paths pass through.
func resolveRoot(p string) string {
	if strings.HasPrefix(p, "gs://") {
		return strings.TrimRight(p, "/")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// baseName is the last path element for both local and gs:// paths.
func baseName(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if strings.HasPrefix(trimmed, "gs://") {
		return path.Base(trimmed)
	}
	return filepath.Base(trimmed)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
