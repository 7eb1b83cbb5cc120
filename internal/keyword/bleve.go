package keyword

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/archivext/internal/models"
	"github.com/hyperjump/archivext/internal/recordid"
)

// Indexed fields, named after the query labels.
var textFields = []string{"date", "auteur", "code", "flag", "desc", "statut", "respo"}

// BleveIndex implements Index with an in-memory Bleve index.
type BleveIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): report text is short and mixed-language.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	for _, f := range textFields {
		docMapping.AddFieldMappingsAt(f, textFieldMapping)
	}
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates an empty in-memory index.
func NewBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func document(r *models.Record) map[string]interface{} {
	return map[string]interface{}{
		"date":   r.Date,
		"auteur": r.Author,
		"code":   r.Code,
		"flag":   r.Flag,
		"desc":   r.Description,
		"statut": r.Status,
		"respo":  r.ResponsibleString(),
	}
}

// Rebuild replaces the index content with records.
func (b *BleveIndex) Rebuild(ctx context.Context, records []*models.Record) error {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve index: %w", err)
	}
	batch := index.NewBatch()
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			_ = index.Close()
			return err
		}
		if err := batch.Index(recordid.ID(r), document(r)); err != nil {
			_ = index.Close()
			return fmt.Errorf("failed to index %s: %w", r.Code, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return fmt.Errorf("failed to apply Bleve batch: %w", err)
	}

	b.mu.Lock()
	old := b.index
	b.index = index
	b.mu.Unlock()
	return old.Close()
}

// Index adds or refreshes one record.
func (b *BleveIndex) Index(r *models.Record) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Index(recordid.ID(r), document(r))
}

// Delete removes a record by fingerprint.
func (b *BleveIndex) Delete(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Delete(id)
}

// Search runs a fuzzy query and returns up to limit hits, best first.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error) {
	fuzziness, matchAll, field := 1, false, ""
	if opts != nil {
		fuzziness, matchAll, field = opts.Fuzziness, opts.MatchAll, opts.Field
	}
	if fuzziness < 0 || fuzziness > MaxFuzziness {
		return nil, models.NewValidationError("fuzziness", "%d not in 0..%d", fuzziness, MaxFuzziness)
	}
	if limit <= 0 {
		limit = 10
	}
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(buildQuery(terms, fuzziness, matchAll, field))
	req.Size = limit

	b.mu.RLock()
	results, err := b.index.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Hit, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Hit{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildQuery combines one query per term. Fuzziness 0 falls back to exact term matching.
func buildQuery(terms []string, fuzziness int, matchAll bool, field string) blevequery.Query {
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		if fuzziness == 0 {
			mq := bleve.NewMatchQuery(term)
			if field != "" {
				mq.SetField(field)
			}
			queries = append(queries, mq)
			continue
		}
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	if matchAll {
		return bleve.NewConjunctionQuery(queries...)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the number of indexed records.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
