// Package store holds the canonical record sequence and its filtered projection.
//
// A Store is not safe for concurrent use; callers serialise access (see package session).
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/models"
	"github.com/hyperjump/archivext/internal/query"
)

// DefaultMatchTemplate formats the "<matches> sur <total>" badge.
const DefaultMatchTemplate = "%d sur %d"

// ErrNotFound is returned when no record of the store equals the requested one.
var ErrNotFound = errors.New("record not found")

// View is a projection of the store: the records matching the last query, in store order.
type View struct {
	Records   []*models.Record
	Positions []int // 1-based store position of each record
	Matches   int
	Total     int
	Counted   bool // false for the empty query: no badge is shown
	Query     string
	template  string
}

// Label renders the match badge, or "" when the count is suppressed.
func (v View) Label() string {
	if !v.Counted {
		return ""
	}
	tpl := v.template
	if tpl == "" {
		tpl = DefaultMatchTemplate
	}
	return fmt.Sprintf(tpl, v.Matches, v.Total)
}

// Store is the ordered record collection.
type Store struct {
	records  []*models.Record
	fields   []Field
	parser   *query.Parser
	excludes map[string]struct{}
	template string
	labels   []string
	logger   *zap.Logger

	lastQuery string
	view      View
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithExcludes sets placeholder strings treated as the empty query, e.g. a search box hint.
func WithExcludes(literals ...string) Option {
	return func(s *Store) {
		for _, l := range literals {
			s.excludes[strings.TrimSpace(l)] = struct{}{}
		}
	}
}

// WithMatchTemplate sets the badge format. It must hold exactly two %d verbs.
func WithMatchTemplate(tpl string) Option {
	return func(s *Store) { s.template = tpl }
}

// WithLabels renames the query labels, one per column in Column order.
func WithLabels(labels ...string) Option {
	return func(s *Store) { s.labels = labels }
}

// New creates an empty store.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		fields:   defaultFields(),
		excludes: make(map[string]struct{}),
		template: DefaultMatchTemplate,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := ValidateMatchTemplate(s.template); err != nil {
		return nil, err
	}
	if s.labels != nil {
		if err := validateLabels(s.labels); err != nil {
			return nil, err
		}
		for i := range s.fields {
			s.fields[i].Label = strings.ToLower(s.labels[i])
		}
	}
	labels := make([]string, len(s.fields))
	for i, f := range s.fields {
		labels[i] = f.Label
	}
	s.parser = query.NewParser(labels)
	s.refilter()
	return s, nil
}

// ValidateMatchTemplate checks that tpl formats two integers and nothing else.
func ValidateMatchTemplate(tpl string) error {
	verbs := 0
	for i := 0; i < len(tpl); i++ {
		if tpl[i] != '%' {
			continue
		}
		if i+1 >= len(tpl) {
			return models.NewValidationError("match template", "%q ends with a lone %%", tpl)
		}
		switch tpl[i+1] {
		case '%':
		case 'd':
			verbs++
		default:
			return models.NewValidationError("match template", "%q uses %%%c, only %%d is allowed", tpl, tpl[i+1])
		}
		i++
	}
	if verbs != 2 {
		return models.NewValidationError("match template", "%q has %d %%d verbs, want 2", tpl, verbs)
	}
	return nil
}

func validateLabels(labels []string) error {
	if len(labels) != int(numColumns) {
		return models.NewValidationError("tags", "got %d labels, want %d", len(labels), numColumns)
	}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		l = strings.ToLower(l)
		if l == "" || strings.ContainsAny(l, ": \t") {
			return models.NewValidationError("tags", "label %q must be a non-empty word", l)
		}
		if seen[l] {
			return models.NewValidationError("tags", "label %q is repeated", l)
		}
		seen[l] = true
	}
	return nil
}

// Labels returns the query labels of this store in column order.
func (s *Store) Labels() []string {
	return s.parser.Labels()
}

// ParseColumn resolves one of this store's labels, or a column header, to a column.
func (s *Store) ParseColumn(name string) (Column, bool) {
	for i, f := range s.fields {
		if strings.EqualFold(name, f.Label) || strings.EqualFold(name, f.Header) {
			return Column(i), true
		}
	}
	return 0, false
}

// Parser returns the query parser bound to the store columns.
func (s *Store) Parser() *query.Parser { return s.parser }

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Records returns the records in store order. The slice is a copy.
func (s *Store) Records() []*models.Record {
	return append([]*models.Record(nil), s.records...)
}

// At returns the record at 1-based position pos.
func (s *Store) At(pos int) (*models.Record, bool) {
	if pos < 1 || pos > len(s.records) {
		return nil, false
	}
	return s.records[pos-1], true
}

// Index returns the 1-based position of the first record equal to r, or 0.
func (s *Store) Index(r *models.Record) int {
	for i, rec := range s.records {
		if rec.Equal(r) {
			return i + 1
		}
	}
	return 0
}

// Replace swaps the whole content of the store.
func (s *Store) Replace(records []*models.Record) {
	s.records = make([]*models.Record, 0, len(records))
	for _, r := range records {
		r.Normalize()
		s.records = append(s.records, r)
	}
	s.refilter()
}

// Append adds records at the end.
func (s *Store) Append(records ...*models.Record) {
	for _, r := range records {
		r.Normalize()
		s.records = append(s.records, r)
	}
	s.refilter()
}

// Update replaces the first record equal to old with updated.
func (s *Store) Update(old, updated *models.Record) error {
	pos := s.Index(old)
	if pos == 0 {
		return ErrNotFound
	}
	updated.Normalize()
	s.records[pos-1] = updated
	s.refilter()
	return nil
}

// Delete removes the first record equal to each argument and returns how many were removed.
func (s *Store) Delete(records ...*models.Record) int {
	removed := 0
	for _, r := range records {
		pos := s.Index(r)
		if pos == 0 {
			continue
		}
		s.records = append(s.records[:pos-1], s.records[pos:]...)
		removed++
	}
	if removed > 0 {
		s.refilter()
	}
	return removed
}

// Sort reorders the store by col. Ties keep their current relative order in both
// directions, so sorting twice by the same column is a no-op. The active filter is
// recomputed afterwards.
func (s *Store) Sort(col Column, descending bool) error {
	if col < 0 || col >= numColumns {
		return models.NewValidationError("sort column", "%d out of range", int(col))
	}
	key := s.fields[col].Key
	type entry struct {
		rec *models.Record
		key Key
		pos int
	}
	entries := make([]entry, len(s.records))
	for i, r := range s.records {
		entries[i] = entry{rec: r, key: key(i+1, r), pos: i + 1}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		c := entries[i].key.compare(entries[j].key)
		if c == 0 {
			return entries[i].pos < entries[j].pos
		}
		if descending {
			return c > 0
		}
		return c < 0
	})
	for i, e := range entries {
		s.records[i] = e.rec
	}
	s.logger.Debug("sorted records", zap.Stringer("column", col), zap.Bool("descending", descending), zap.Int("records", len(s.records)))
	s.refilter()
	return nil
}

// Filter projects the store through q and remembers q for later mutations.
func (s *Store) Filter(q string) View {
	s.lastQuery = q
	s.refilter()
	return s.View()
}

// View returns the current projection.
func (s *Store) View() View {
	v := s.view
	v.Records = append([]*models.Record(nil), s.view.Records...)
	v.Positions = append([]int(nil), s.view.Positions...)
	return v
}

// Query returns the last query given to Filter.
func (s *Store) Query() string { return s.lastQuery }

func (s *Store) refilter() {
	q := s.lastQuery
	if _, ok := s.excludes[strings.TrimSpace(q)]; ok && len(s.excludes) > 0 {
		q = ""
	}
	v := View{Total: len(s.records), Query: s.lastQuery, template: s.template}
	if q == "" {
		v.Records = append([]*models.Record(nil), s.records...)
		v.Positions = make([]int, len(s.records))
		for i := range s.records {
			v.Positions[i] = i + 1
		}
		v.Matches = len(s.records)
		s.view = v
		return
	}

	m := s.compile(q)
	for i, r := range s.records {
		if m.match(i+1, r) {
			v.Records = append(v.Records, r)
			v.Positions = append(v.Positions, i+1)
		}
	}
	v.Matches = len(v.Records)
	v.Counted = true
	s.view = v
	s.logger.Debug("filtered records", zap.String("query", q), zap.Int("matches", v.Matches), zap.Int("total", v.Total))
}

// matcher is a parsed query ready to be tested against records.
type matcher struct {
	fields []Field
	free   string
	tags   []fieldNeedle
}

type fieldNeedle struct {
	field  int
	needle string
}

func (s *Store) compile(q string) matcher {
	free, labeled := query.Split(s.parser.Parse(q))
	m := matcher{fields: s.fields, free: free.Content}
	if len(labeled) > 0 {
		m.free = strings.TrimSpace(m.free)
	}
	m.free = strings.ToLower(m.free)
	for _, l := range labeled {
		m.tags = append(m.tags, fieldNeedle{
			field:  l.Field,
			needle: strings.ToLower(strings.TrimSpace(l.Content)),
		})
	}
	return m
}

// match applies the AND of every labeled constraint, then the free text against any column.
func (m matcher) match(pos int, r *models.Record) bool {
	for _, t := range m.tags {
		if !strings.Contains(strings.ToLower(m.fields[t.field].Value(pos, r)), t.needle) {
			return false
		}
	}
	if m.free == "" {
		return true
	}
	for _, f := range m.fields {
		if strings.Contains(strings.ToLower(f.Value(pos, r)), m.free) {
			return true
		}
	}
	return false
}
