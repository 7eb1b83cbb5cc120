// Package keyword provides typo-tolerant lookup over records.
package keyword

import (
	"context"

	"github.com/hyperjump/archivext/internal/models"
)

// MaxFuzziness is the largest edit distance Bleve accepts for fuzzy terms.
const MaxFuzziness = 2

// SearchOptions optional parameters for search. Nil means use defaults.
type SearchOptions struct {
	// Fuzziness is the maximum Levenshtein edit distance per term (0 to 2).
	// Zero disables fuzzy matching. Default is 1.
	Fuzziness int
	// MatchAll requires every query term to match; by default any term may match.
	MatchAll bool
	// Field restricts the search to one record field label (e.g. "desc"). Empty means all.
	Field string
}

// Hit is a single search hit. ID is the record fingerprint.
type Hit struct {
	ID    string
	Score float64
}

// Index defines record indexing and search operations.
type Index interface {
	Rebuild(ctx context.Context, records []*models.Record) error
	Index(r *models.Record) error
	Delete(id string) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error)
	DocCount() (uint64, error)
	Close() error
}
