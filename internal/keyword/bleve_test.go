package keyword

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/archivext/internal/models"
	"github.com/hyperjump/archivext/internal/recordid"
)

func sampleRecords() []*models.Record {
	r1 := models.NewRecord("05/03/23", "Bob", "@1678000000123", "cheat", "wall hack near spawn")
	r1.Responsible = []string{"jinai"}
	r2 := models.NewRecord("06/03/23", "Alice", "@1678000000999", "spam", "selling accounts")
	r3 := models.NewRecord("07/03/23", "Terro", "@1678000001000", "rally", "faille connue")
	return []*models.Record{r1, r2, r3}
}

func newIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex()
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	if err := idx.Rebuild(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	return idx
}

func ids(hits []*Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestBleveIndex_SearchTolerance(t *testing.T) {
	idx := newIndex(t)
	recs := sampleRecords()
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		opts  *SearchOptions
		want  string
	}{
		{"exact word", "hack", nil, recordid.ID(recs[0])},
		{"one typo", "hask", nil, recordid.ID(recs[0])},
		{"two typos need fuzziness 2", "zeling", &SearchOptions{Fuzziness: 2}, recordid.ID(recs[1])},
		{"author field", "alise", &SearchOptions{Fuzziness: 1, Field: "auteur"}, recordid.ID(recs[1])},
		{"responsible is indexed", "jinia", &SearchOptions{Fuzziness: 2}, recordid.ID(recs[0])},
		{"case-insensitive", "FAILLE", nil, recordid.ID(recs[2])},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := idx.Search(ctx, tt.query, 10, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(hits) == 0 || hits[0].ID != tt.want {
				t.Errorf("Search(%q) = %v, want first %s", tt.query, ids(hits), tt.want)
			}
		})
	}
}

func TestBleveIndex_ExactModeRejectsTypos(t *testing.T) {
	idx := newIndex(t)
	hits, err := idx.Search(context.Background(), "hask", 10, &SearchOptions{Fuzziness: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("exact search matched a typo: %v", ids(hits))
	}
}

func TestBleveIndex_MatchAll(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()
	anyHits, err := idx.Search(ctx, "hack accounts", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(anyHits) != 2 {
		t.Errorf("any-term search = %v, want 2 hits", ids(anyHits))
	}
	all, err := idx.Search(ctx, "hack accounts", 10, &SearchOptions{Fuzziness: 1, MatchAll: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("all-terms search = %v, want none", ids(all))
	}
}

func TestBleveIndex_IndexDeleteAndCount(t *testing.T) {
	idx := newIndex(t)
	if n, _ := idx.DocCount(); n != 3 {
		t.Fatalf("DocCount = %d", n)
	}
	extra := models.NewRecord("08/03/23", "Zed", "@1", "insult", "onlyinextra")
	if err := idx.Index(extra); err != nil {
		t.Fatal(err)
	}
	hits, _ := idx.Search(context.Background(), "onlyinextra", 10, nil)
	if len(hits) != 1 {
		t.Fatalf("hits = %v", ids(hits))
	}
	if err := idx.Delete(recordid.ID(extra)); err != nil {
		t.Fatal(err)
	}
	hits, _ = idx.Search(context.Background(), "onlyinextra", 10, nil)
	if len(hits) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(hits))
	}
}

func TestBleveIndex_RebuildReplaces(t *testing.T) {
	idx := newIndex(t)
	if err := idx.Rebuild(context.Background(), sampleRecords()[:1]); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 1 {
		t.Errorf("DocCount after rebuild = %d", n)
	}
}

func TestBleveIndex_SearchValidation(t *testing.T) {
	idx := newIndex(t)
	var verr *models.ValidationError
	if _, err := idx.Search(context.Background(), "x", 10, &SearchOptions{Fuzziness: 3}); !errors.As(err, &verr) {
		t.Errorf("fuzziness 3 error = %v", err)
	}
	hits, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil || len(hits) != 0 {
		t.Errorf("blank query = %v, %v", hits, err)
	}
}
