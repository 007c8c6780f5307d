// Package filter builds parameterized WHERE/JOIN/ORDER BY fragments for
// sample queries. Every user-supplied value is bound as a query parameter;
// column names go through an allow-list, never string interpolation.
package filter

import (
	"fmt"
	"strings"

	"github.com/visionlens/visionlens/go/apperror"
)

// MaxSampleIDs bounds the id allow-list, which exists for lasso selections
// in the embedding view.
const MaxSampleIDs = 5000

// sortableColumns is the allow-list for ORDER BY. Anything else falls back
// to id ASC.
var sortableColumns = map[string]bool{
	"id":        true,
	"file_name": true,
	"width":     true,
	"height":    true,
	"split":     true,
}

// Clauses is the built query fragment set. The sample table is aliased s
// and the annotations table a. Placeholders are numbered $1..$N in Args
// order; callers appending LIMIT/OFFSET continue from len(Args)+1.
type Clauses struct {
	// Join is empty or one or more JOIN clauses.
	Join string
	// Where is the predicate list joined by AND, without the WHERE keyword.
	Where string
	// Order is a full ORDER BY clause.
	Order string
	// Distinct is true when Join is non-empty and the caller must
	// de-duplicate sample rows.
	Distinct bool
	// Args are the bound parameter values, in placeholder order.
	Args []interface{}
}

// Builder accumulates predicates. Zero or one of each; the dataset id is
// mandatory and supplied at construction.
type Builder struct {
	conditions []string
	joins      []string
	args       []interface{}
	joined     bool
	err        error
}

// New returns a Builder filtering on the given dataset.
func New(datasetID string) *Builder {
	b := &Builder{}
	b.add("s.dataset_id = %s", datasetID)
	return b
}

// add appends one predicate, substituting %s with the next placeholder.
func (b *Builder) add(cond string, values ...interface{}) {
	placeholders := make([]interface{}, 0, len(values))
	for _, v := range values {
		b.args = append(b.args, v)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(b.args)))
	}
	b.conditions = append(b.conditions, fmt.Sprintf(cond, placeholders...))
}

// joinAnnotations adds the annotations join once.
func (b *Builder) joinAnnotations() {
	if b.joined {
		return
	}
	b.joins = append(b.joins, "JOIN Annotations a ON s.sample_id = a.sample_id AND a.dataset_id = s.dataset_id")
	b.joined = true
}

// Split filters by split name. Empty means no filter.
func (b *Builder) Split(split string) *Builder {
	if split != "" {
		b.add("s.split = %s", split)
	}
	return b
}

// Category filters samples having at least one annotation of the category.
func (b *Builder) Category(category string) *Builder {
	if category != "" {
		b.joinAnnotations()
		b.add("a.category_name = %s", category)
	}
	return b
}

// Search filters by case-insensitive filename substring.
func (b *Builder) Search(search string) *Builder {
	search = strings.TrimSpace(search)
	if search != "" {
		b.add("s.file_name ILIKE %s", "%"+search+"%")
	}
	return b
}

// Tags requires every given tag to be present on the sample.
func (b *Builder) Tags(tags []string) *Builder {
	for _, tag := range tags {
		b.add("s.tags @> ARRAY[%s]", tag)
	}
	return b
}

// SampleIDs restricts to an explicit id list, at most MaxSampleIDs long.
func (b *Builder) SampleIDs(ids []string) *Builder {
	if len(ids) == 0 {
		return b
	}
	if len(ids) > MaxSampleIDs {
		b.err = apperror.New(apperror.BadInput, "at most %d sample ids per filter, got %d", MaxSampleIDs, len(ids))
		return b
	}
	b.add("s.sample_id = ANY(%s)", ids)
	return b
}

// Sources filters samples having annotations from any of the given sources.
func (b *Builder) Sources(sources []string) *Builder {
	if len(sources) == 0 {
		return b
	}
	b.joinAnnotations()
	b.add("a.source = ANY(%s)", sources)
	return b
}

// Build assembles the clauses. Unknown sort columns silently fall back to
// id ascending.
func (b *Builder) Build(sortBy, sortDir string) (Clauses, error) {
	if b.err != nil {
		return Clauses{}, b.err
	}
	order := "ORDER BY s.sample_id ASC"
	if sortableColumns[sortBy] {
		col := sortBy
		if col == "id" {
			col = "sample_id"
		}
		dir := "ASC"
		if strings.EqualFold(sortDir, "desc") {
			dir = "DESC"
		}
		order = fmt.Sprintf("ORDER BY s.%s %s", col, dir)
	}
	return Clauses{
		Join:     strings.Join(b.joins, " "),
		Where:    strings.Join(b.conditions, " AND "),
		Order:    order,
		Distinct: b.joined,
		Args:     b.args,
	}, nil
}
