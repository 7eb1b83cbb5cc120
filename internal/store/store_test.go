package store

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hyperjump/archivext/internal/models"
)

func rec(date, author, code, flag, desc string, respo ...string) *models.Record {
	r := models.NewRecord(date, author, code, flag, desc)
	r.Responsible = append(r.Responsible, respo...)
	return r
}

func codes(recs []*models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Code
	}
	return out
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func sample() []*models.Record {
	return []*models.Record{
		rec("05/03/23", "Bob", "@1", "cheat", "wall hack", "Jinai"),
		rec("01/01/22", "alice", "@2", "spam", "fail to comply"),
		rec("17/08/23", "Terro", "@3", "rally", "faille connue", "jin", "tsa"),
		rec("05/03/23", "bob", "@4", "insult", "rude"),
	}
}

func TestFilter_emptyQueryReturnsAllUncounted(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	v := s.Filter("")
	if v.Matches != 4 || v.Total != 4 || len(v.Records) != 4 {
		t.Fatalf("view = %d/%d (%d records)", v.Matches, v.Total, len(v.Records))
	}
	if v.Counted || v.Label() != "" {
		t.Errorf("count badge should be suppressed, got %q", v.Label())
	}
	if !reflect.DeepEqual(v.Positions, []int{1, 2, 3, 4}) {
		t.Errorf("positions = %v", v.Positions)
	}
}

func TestFilter_placeholderIsEmptyQuery(t *testing.T) {
	s := newStore(t, WithExcludes("Rechercher..."))
	s.Replace(sample())
	v := s.Filter("  Rechercher... ")
	if v.Counted || len(v.Records) != 4 {
		t.Errorf("placeholder not treated as empty: counted=%v n=%d", v.Counted, len(v.Records))
	}
}

func TestFilter_labeled(t *testing.T) {
	s := newStore(t)
	s.Replace([]*models.Record{
		rec("05/03/23", "Bob", "@1", "f", "d"),
		rec("05/03/23", "alice", "@2", "f", "d"),
	})
	v := s.Filter("auteur:Bob")
	if !reflect.DeepEqual(codes(v.Records), []string{"@1"}) {
		t.Errorf("records = %v", codes(v.Records))
	}
	if v.Label() != "1 sur 2" {
		t.Errorf("label = %q", v.Label())
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"respo and desc are ANDed", "respo:Jin desc:fail", []string{"@3"}},
		{"respo substring case-insensitive", "respo:JIN", []string{"@1", "@3"}},
		{"content is trimmed", "auteur:  bob   ", []string{"@1", "@4"}},
		{"repeated label ANDs both", "auteur:b auteur:o", []string{"@1", "@4"}},
		{"repeated label with disjoint values", "auteur:bob auteur:alice", nil},
		{"free text matches any column", "connue", []string{"@3"}},
		{"free text is case-insensitive", "WALL", []string{"@1"}},
		{"free text alone is not trimmed", "wall ", []string{"@1"}},
		{"free text with tags is trimmed", "rude  flag:insult", []string{"@4"}},
		{"free text and tags both apply", "hack auteur:alice", nil},
		{"num matches the position", "num:2", []string{"@2"}},
		{"date column", "date:05/03", []string{"@1", "@4"}},
		{"label is case-insensitive", "FLAG:Spam", []string{"@2"}},
		{"empty tag content matches everything", "code:", []string{"@1", "@2", "@3", "@4"}},
		{"no match", "zzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			s.Replace(sample())
			v := s.Filter(tt.query)
			got := codes(v.Records)
			if len(got) == 0 {
				got = nil
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Filter(%q) = %v, want %v", tt.query, got, tt.want)
			}
			if !v.Counted || v.Matches != len(tt.want) || v.Total != 4 {
				t.Errorf("counted=%v matches=%d total=%d", v.Counted, v.Matches, v.Total)
			}
		})
	}
}

func TestFilter_whitespaceQueryIsNotEmpty(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	v := s.Filter(" ")
	if !v.Counted {
		t.Fatal("whitespace query should be counted")
	}
	if !reflect.DeepEqual(codes(v.Records), []string{"@1", "@2", "@3"}) {
		t.Errorf("records = %v", codes(v.Records))
	}
}

func TestFilter_doesNotMutateStore(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	s.Filter("auteur:bob")
	if s.Len() != 4 || !reflect.DeepEqual(codes(s.Records()), []string{"@1", "@2", "@3", "@4"}) {
		t.Errorf("store changed: %v", codes(s.Records()))
	}
}

func TestSort(t *testing.T) {
	tests := []struct {
		name string
		col  Column
		desc bool
		want []string
	}{
		{"date ascending keeps ties in place", ColDate, false, []string{"@2", "@1", "@4", "@3"}},
		{"date descending keeps ties in place", ColDate, true, []string{"@3", "@1", "@4", "@2"}},
		{"author is case-folded", ColAuthor, false, []string{"@2", "@1", "@4", "@3"}},
		{"num descending reverses", ColNum, true, []string{"@4", "@3", "@2", "@1"}},
		{"respo empty first", ColRespo, false, []string{"@2", "@4", "@3", "@1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			s.Replace(sample())
			if err := s.Sort(tt.col, tt.desc); err != nil {
				t.Fatal(err)
			}
			if got := codes(s.Records()); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Sort(%v, %v) = %v, want %v", tt.col, tt.desc, got, tt.want)
			}
		})
	}
}

func TestSort_idempotent(t *testing.T) {
	for _, desc := range []bool{false, true} {
		for col := ColNum + 1; col < numColumns; col++ {
			s := newStore(t)
			s.Replace(sample())
			_ = s.Sort(col, desc)
			first := codes(s.Records())
			_ = s.Sort(col, desc)
			if second := codes(s.Records()); !reflect.DeepEqual(first, second) {
				t.Errorf("Sort(%v, %v) not idempotent: %v then %v", col, desc, first, second)
			}
		}
	}
}

func TestSort_datesAreChronological(t *testing.T) {
	s := newStore(t)
	s.Replace([]*models.Record{
		rec("02/01/24", "a", "@1", "f", "d"),
		rec("31/12/23", "a", "@2", "f", "d"),
		rec("15/06/23", "a", "@3", "f", "d"),
	})
	_ = s.Sort(ColDate, false)
	if got := codes(s.Records()); !reflect.DeepEqual(got, []string{"@3", "@2", "@1"}) {
		t.Errorf("order = %v", got)
	}
}

func TestSort_recomputesFilter(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	s.Filter("auteur:bob")
	_ = s.Sort(ColNum, true)
	v := s.View()
	if !reflect.DeepEqual(codes(v.Records), []string{"@4", "@1"}) {
		t.Errorf("records = %v", codes(v.Records))
	}
	if !reflect.DeepEqual(v.Positions, []int{1, 4}) {
		t.Errorf("positions = %v", v.Positions)
	}
}

func TestSort_invalidColumn(t *testing.T) {
	s := newStore(t)
	var verr *models.ValidationError
	if err := s.Sort(Column(42), false); !errors.As(err, &verr) {
		t.Errorf("Sort(42) error = %v", err)
	}
}

func TestMutationsRefilter(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	s.Filter("flag:spam")

	s.Append(rec("01/02/23", "eve", "@5", "spam", "buy now"))
	if got := codes(s.View().Records); !reflect.DeepEqual(got, []string{"@2", "@5"}) {
		t.Errorf("after Append: %v", got)
	}

	if n := s.Delete(rec("01/01/22", "alice", "@2", "spam", "fail to comply")); n != 1 {
		t.Errorf("Delete removed %d", n)
	}
	if got := codes(s.View().Records); !reflect.DeepEqual(got, []string{"@5"}) {
		t.Errorf("after Delete: %v", got)
	}

	old := rec("01/02/23", "eve", "@5", "spam", "buy now")
	updated := old.Clone()
	updated.Flag = "scam"
	if err := s.Update(old, updated); err != nil {
		t.Fatal(err)
	}
	if v := s.View(); len(v.Records) != 0 || v.Label() != "0 sur 4" {
		t.Errorf("after Update: %v %q", codes(v.Records), v.Label())
	}
}

func TestUpdate_notFound(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	if err := s.Update(rec("x", "x", "x", "x", "x"), rec("y", "y", "y", "y", "y")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_matchesIgnoringAnnotations(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	key := rec("05/03/23", "Bob", "@1", "cheat", "wall hack")
	updated := key.Clone()
	updated.Status = "done"
	if err := s.Update(key, updated); err != nil {
		t.Fatal(err)
	}
	got, _ := s.At(1)
	if got.Status != "done" {
		t.Errorf("status = %q", got.Status)
	}
}

func TestViewIsACopy(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	v := s.View()
	v.Records[0] = nil
	if r, _ := s.At(1); r == nil {
		t.Fatal("view shares the backing slice")
	}
	if s.View().Records[0] == nil {
		t.Fatal("view shares the projection slice")
	}
}

func TestAt(t *testing.T) {
	s := newStore(t)
	s.Replace(sample())
	if _, ok := s.At(0); ok {
		t.Error("At(0) should fail")
	}
	if _, ok := s.At(5); ok {
		t.Error("At(5) should fail")
	}
	if r, ok := s.At(3); !ok || r.Code != "@3" {
		t.Errorf("At(3) = %v, %v", r, ok)
	}
}

func TestNew_matchTemplate(t *testing.T) {
	tests := []struct {
		tpl     string
		wantErr bool
	}{
		{"%d sur %d", false},
		{"%d of %d (100%%)", false},
		{"%d", true},
		{"%s sur %d", true},
		{"%d sur %d %d", true},
		{"%d sur %d %", true},
	}
	for _, tt := range tests {
		t.Run(tt.tpl, func(t *testing.T) {
			_, err := New(WithMatchTemplate(tt.tpl))
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.tpl, err, tt.wantErr)
			}
		})
	}
}

func TestCustomMatchTemplate(t *testing.T) {
	s := newStore(t, WithMatchTemplate("%d of %d"))
	s.Replace(sample())
	if got := s.Filter("bob").Label(); got != "2 of 4" {
		t.Errorf("label = %q", got)
	}
}

func TestParseColumn(t *testing.T) {
	for _, name := range []string{"auteur", "Auteur", "AUTEUR"} {
		if c, ok := ParseColumn(name); !ok || c != ColAuthor {
			t.Errorf("ParseColumn(%q) = %v, %v", name, c, ok)
		}
	}
	if c, ok := ParseColumn("#"); !ok || c != ColNum {
		t.Errorf("ParseColumn(#) = %v, %v", c, ok)
	}
	if _, ok := ParseColumn("nope"); ok {
		t.Error("ParseColumn(nope) should fail")
	}
	if got := Labels(); got[ColRespo] != "respo" || len(got) != int(numColumns) {
		t.Errorf("Labels() = %v", got)
	}
}

func TestWithLabels(t *testing.T) {
	s, err := New(WithLabels("n", "day", "author", "code", "flag", "text", "status", "staff"))
	if err != nil {
		t.Fatal(err)
	}
	s.Append(
		models.NewRecord("05/03/23", "Bob", "@1", "cheat", "wall hack"),
		models.NewRecord("06/03/23", "Alice", "@2", "spam", "bob sells accounts"),
	)
	if v := s.Filter("author:bob"); v.Matches != 1 || v.Records[0].Author != "Bob" {
		t.Errorf("author:bob matched %d", v.Matches)
	}
	// The old label is plain free text now.
	if v := s.Filter("auteur:bob"); v.Matches != 0 {
		t.Errorf("auteur:bob matched %d, want 0", v.Matches)
	}
	if c, ok := s.ParseColumn("text"); !ok || c != ColDesc {
		t.Errorf("ParseColumn(text) = %v, %v", c, ok)
	}
	if got := s.Labels(); got[ColRespo] != "staff" {
		t.Errorf("Labels() = %v", got)
	}

	var verr *models.ValidationError
	for _, labels := range [][]string{
		{"a", "b"},
		{"n", "day", "author", "code", "flag", "text", "status", "status"},
		{"n", "day", "author", "code", "flag", "text", "sta tus", "staff"},
	} {
		if _, err := New(WithLabels(labels...)); !errors.As(err, &verr) {
			t.Errorf("WithLabels(%v) error = %v", labels, err)
		}
	}
}
