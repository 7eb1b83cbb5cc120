// Package session serialises every operation on the working reports and the loaded
// archives behind one lock, and keeps the fuzzy index, storage and metrics in step.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/archive"
	"github.com/hyperjump/archivext/internal/debounce"
	"github.com/hyperjump/archivext/internal/keyword"
	"github.com/hyperjump/archivext/internal/metrics"
	"github.com/hyperjump/archivext/internal/models"
	"github.com/hyperjump/archivext/internal/query"
	"github.com/hyperjump/archivext/internal/recordid"
	"github.com/hyperjump/archivext/internal/sigparser"
	"github.com/hyperjump/archivext/internal/storage"
	"github.com/hyperjump/archivext/internal/store"
)

var (
	// ErrNoStorage is returned by Persist and Restore when no storage is configured.
	ErrNoStorage = errors.New("no session storage configured")
	// ErrNoIndex is returned by Fuzzy when the fuzzy index is disabled.
	ErrNoIndex = errors.New("fuzzy index disabled")
	// ErrUnprocessed stops an archiving run at a record whose status still holds "todo".
	ErrUnprocessed = errors.New("record not processed yet")
)

// TodoKeyword marks a status that must not be archived.
const TodoKeyword = models.DefaultStatus

// Set selects one of the two record collections of a session.
type Set int

const (
	// Working holds the pasted reports being processed.
	Working Set = iota
	// Archived holds the records loaded from the archive files.
	Archived
	numSets
)

func (s Set) String() string {
	switch s {
	case Working:
		return "session"
	case Archived:
		return "archives"
	default:
		return fmt.Sprintf("set(%d)", int(s))
	}
}

// ParseSet accepts "session" (or "working") and "archives". Empty means Working.
func ParseSet(name string) (Set, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "session", "working":
		return Working, true
	case "archives", "archived":
		return Archived, true
	}
	return 0, false
}

// Hit is a fuzzy match resolved to its record.
type Hit struct {
	ID     string
	Set    Set
	Score  float64
	Record *models.Record
}

// Listener is notified after a set was recomputed. It runs outside the session lock.
type Listener func(set Set, v store.View)

type book struct {
	store     *store.Store
	debouncer *debounce.Debouncer
	sortCol   store.Column
	sortDesc  bool
	sorted    bool
}

// Session is the single owner of the record stores.
type Session struct {
	mu    sync.Mutex
	books [numSets]*book

	archives *archive.Archives
	storage  storage.Storage
	index    keyword.Index
	reports  *sigparser.Parser
	metrics  *metrics.Metrics
	logger   *zap.Logger

	hashAlgo  string
	fuzzy     keyword.SearchOptions
	wait      time.Duration
	clock     debounce.Clock
	storeOpts []store.Option

	listenersMu sync.Mutex
	listeners   []Listener
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithStoreOptions passes options to both record stores.
func WithStoreOptions(opts ...store.Option) Option {
	return func(s *Session) { s.storeOpts = append(s.storeOpts, opts...) }
}

// WithDebounce sets the query debounce window. Zero filters synchronously.
func WithDebounce(wait time.Duration) Option {
	return func(s *Session) { s.wait = wait }
}

// WithClock replaces the debounce clock.
func WithClock(c debounce.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithStorage enables Persist and Restore.
func WithStorage(st storage.Storage) Option {
	return func(s *Session) { s.storage = st }
}

// WithIndex enables Fuzzy. The session keeps the index in sync but does not close it.
func WithIndex(idx keyword.Index) Option {
	return func(s *Session) { s.index = idx }
}

// WithFuzzyOptions sets the defaults used by Fuzzy.
func WithFuzzyOptions(opts keyword.SearchOptions) Option {
	return func(s *Session) { s.fuzzy = opts }
}

// WithMetrics reports loads, filters and archiving runs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithHashAlgorithm sets the archive hash algorithm.
func WithHashAlgorithm(algo string) Option {
	return func(s *Session) { s.hashAlgo = algo }
}

// WithReportParser sets the parser used by AddReports.
func WithReportParser(p *sigparser.Parser) Option {
	return func(s *Session) { s.reports = p }
}

// New creates a session over arch. Both sets start empty.
func New(arch *archive.Archives, opts ...Option) (*Session, error) {
	if arch == nil {
		return nil, models.NewValidationError("archives", "nil archive set")
	}
	s := &Session{
		archives: arch,
		logger:   zap.NewNop(),
		hashAlgo: archive.HashMD5,
		fuzzy:    keyword.SearchOptions{Fuzziness: 1},
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := archive.NewHash(s.hashAlgo); err != nil {
		return nil, err
	}
	if s.fuzzy.Fuzziness < 0 || s.fuzzy.Fuzziness > keyword.MaxFuzziness {
		return nil, models.NewValidationError("fuzziness", "%d not in 0..%d", s.fuzzy.Fuzziness, keyword.MaxFuzziness)
	}
	if s.reports == nil {
		s.reports = sigparser.New(sigparser.WithLogger(s.logger))
	}

	storeOpts := append([]store.Option{store.WithLogger(s.logger)}, s.storeOpts...)
	debOpts := []debounce.Option{debounce.WithLogger(s.logger)}
	if s.clock != nil {
		debOpts = append(debOpts, debounce.WithClock(s.clock))
	}
	for i := range s.books {
		st, err := store.New(storeOpts...)
		if err != nil {
			return nil, err
		}
		deb, err := debounce.New(s.wait, debOpts...)
		if err != nil {
			return nil, err
		}
		s.books[i] = &book{store: st, debouncer: deb}
	}
	return s, nil
}

func (s *Session) book(set Set) (*book, error) {
	if set < 0 || set >= numSets {
		return nil, models.NewValidationError("record set", "%d out of range", int(set))
	}
	return s.books[set], nil
}

// OnChange registers l. Listeners run in registration order.
func (s *Session) OnChange(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

type change struct {
	set  Set
	view store.View
}

func (s *Session) notify(changes ...change) {
	s.listenersMu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, c := range changes {
		for _, l := range ls {
			l(c.set, c.view)
		}
	}
}

// snapshotLocked returns the current view of set; callers hold s.mu.
func (s *Session) snapshotLocked(set Set) change {
	return change{set: set, view: s.books[set].store.View()}
}

// Load reads every archive file into the Archived set and rebuilds the fuzzy index.
// An active sort on the Archived set is applied again.
func (s *Session) Load(ctx context.Context) (archive.Stats, error) {
	records, stats, err := s.archives.Fetch(ctx)
	s.metrics.ObserveStats(stats)
	if err != nil {
		return stats, fmt.Errorf("failed to load archives: %w", err)
	}

	s.mu.Lock()
	b := s.books[Archived]
	b.store.Replace(records)
	if b.sorted {
		if err := b.store.Sort(b.sortCol, b.sortDesc); err != nil {
			s.mu.Unlock()
			return stats, err
		}
	}
	err = s.rebuildIndexLocked(ctx)
	c := s.snapshotLocked(Archived)
	s.mu.Unlock()

	s.logger.Info("Archives loaded",
		zap.Int("files", stats.FilesRead),
		zap.Int("records", len(records)),
		zap.Int("rejected", stats.LinesRejected))
	s.notify(c)
	return stats, err
}

func (s *Session) rebuildIndexLocked(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	all := append(s.books[Archived].store.Records(), s.books[Working].store.Records()...)
	if err := s.index.Rebuild(ctx, all); err != nil {
		return fmt.Errorf("failed to rebuild fuzzy index: %w", err)
	}
	return nil
}

func (s *Session) indexLocked(records ...*models.Record) {
	if s.index == nil {
		return
	}
	for _, r := range records {
		if err := s.index.Index(r); err != nil {
			s.logger.Warn("Failed to index record", zap.String("code", r.Code), zap.Error(err))
		}
	}
}

// unindexLocked drops records from the index unless another set still holds them.
func (s *Session) unindexLocked(records ...*models.Record) {
	if s.index == nil {
		return
	}
	for _, r := range records {
		if s.books[Working].store.Index(r) != 0 || s.books[Archived].store.Index(r) != 0 {
			continue
		}
		if err := s.index.Delete(recordid.ID(r)); err != nil {
			s.logger.Warn("Failed to unindex record", zap.String("code", r.Code), zap.Error(err))
		}
	}
}

// SetQuery schedules a filter of set after the debounce window. A later call replaces it.
func (s *Session) SetQuery(set Set, q string) error {
	b, err := s.book(set)
	if err != nil {
		return err
	}
	b.debouncer.Call(func() { s.filter(set, b, q) })
	return nil
}

// FlushQuery runs a pending debounced filter of set now.
func (s *Session) FlushQuery(set Set) bool {
	b, err := s.book(set)
	if err != nil {
		return false
	}
	return b.debouncer.Flush()
}

// FilterNow filters set immediately, dropping any pending debounced filter.
func (s *Session) FilterNow(set Set, q string) (store.View, error) {
	b, err := s.book(set)
	if err != nil {
		return store.View{}, err
	}
	b.debouncer.Cancel()
	return s.filter(set, b, q), nil
}

// filter runs q on set without touching the debouncer, so a query scheduled while
// an earlier debounced run is executing stays pending.
func (s *Session) filter(set Set, b *book, q string) store.View {
	s.mu.Lock()
	start := time.Now()
	v := b.store.Filter(q)
	s.metrics.ObserveFilter(time.Since(start), v.Matches, v.Total)
	s.mu.Unlock()

	s.notify(change{set: set, view: v})
	return v
}

// View returns the current projection of set.
func (s *Session) View(set Set) (store.View, error) {
	b, err := s.book(set)
	if err != nil {
		return store.View{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.store.View(), nil
}

// Records returns every record of set in store order.
func (s *Session) Records(set Set) ([]*models.Record, error) {
	b, err := s.book(set)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.store.Records(), nil
}

// Len returns the number of records in set.
func (s *Session) Len(set Set) int {
	b, err := s.book(set)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.store.Len()
}

// Parser returns the query parser shared by both sets.
func (s *Session) Parser() *query.Parser {
	return s.books[Working].store.Parser()
}

// ParseColumn resolves a query label or column header to a column.
func (s *Session) ParseColumn(name string) (store.Column, bool) {
	return s.books[Working].store.ParseColumn(name)
}

// Sort orders set by col.
func (s *Session) Sort(set Set, col store.Column, descending bool) (store.View, error) {
	b, err := s.book(set)
	if err != nil {
		return store.View{}, err
	}
	s.mu.Lock()
	if err := b.store.Sort(col, descending); err != nil {
		s.mu.Unlock()
		return store.View{}, err
	}
	b.sortCol, b.sortDesc, b.sorted = col, descending, true
	c := s.snapshotLocked(set)
	s.mu.Unlock()

	s.notify(c)
	return c.view, nil
}

// ToggleSort sorts set by col ascending, or flips the direction when col is already
// the sort column. It returns the direction applied.
func (s *Session) ToggleSort(set Set, col store.Column) (bool, error) {
	b, err := s.book(set)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	desc := b.sorted && b.sortCol == col && !b.sortDesc
	s.mu.Unlock()
	if _, err := s.Sort(set, col, desc); err != nil {
		return false, err
	}
	return desc, nil
}

// SortState returns the last sort applied to set.
func (s *Session) SortState(set Set) (col store.Column, descending, sorted bool) {
	b, err := s.book(set)
	if err != nil {
		return 0, false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.sortCol, b.sortDesc, b.sorted
}

// Append adds records to the Working set.
func (s *Session) Append(records ...*models.Record) store.View {
	s.mu.Lock()
	w := s.books[Working].store
	w.Append(records...)
	s.indexLocked(records...)
	c := s.snapshotLocked(Working)
	s.mu.Unlock()

	s.notify(c)
	return c.view
}

// AddReports parses pasted report lines and appends the new records to the Working set.
func (s *Session) AddReports(text string) sigparser.Result {
	s.mu.Lock()
	w := s.books[Working].store
	res := s.reports.Parse(text, w.Records())
	w.Append(res.Records...)
	s.indexLocked(res.Records...)
	c := s.snapshotLocked(Working)
	s.mu.Unlock()

	s.logger.Info("Reports added",
		zap.Int("added", len(res.Records)),
		zap.Int("skipped", res.Skipped),
		zap.Int("duplicates", res.Duplicates))
	s.notify(c)
	return res
}

// Find returns the Working or Archived record with fingerprint id, Working first.
func (s *Session) Find(id string) (*models.Record, Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for set := Working; set < numSets; set++ {
		if r := findLocked(s.books[set].store, id); r != nil {
			return r.Clone(), set, nil
		}
	}
	return nil, 0, fmt.Errorf("%s: %w", id, store.ErrNotFound)
}

func findLocked(st *store.Store, id string) *models.Record {
	for _, r := range st.Records() {
		if recordid.ID(r) == id {
			return r
		}
	}
	return nil
}

// Edit applies a status edit by editor to the Working record with fingerprint id.
func (s *Session) Edit(id, editor, newStatus string) (*models.Record, error) {
	s.mu.Lock()
	w := s.books[Working].store
	old := findLocked(w, id)
	if old == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	updated := old.Clone()
	updated.ApplyStatusEdit(editor, newStatus)
	if err := w.Update(old, updated); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.indexLocked(updated)
	c := s.snapshotLocked(Working)
	s.mu.Unlock()

	s.logger.Debug("Record edited", zap.String("id", id), zap.String("editor", editor), zap.String("status", updated.Status))
	s.notify(c)
	return updated.Clone(), nil
}

// Delete removes Working records by fingerprint and returns how many were removed.
func (s *Session) Delete(ids ...string) int {
	s.mu.Lock()
	w := s.books[Working].store
	var targets []*models.Record
	for _, id := range ids {
		if r := findLocked(w, id); r != nil {
			targets = append(targets, r)
		}
	}
	n := w.Delete(targets...)
	s.unindexLocked(targets...)
	c := s.snapshotLocked(Working)
	s.mu.Unlock()

	if n > 0 {
		s.notify(c)
	}
	return n
}

// Archive writes the Working records with the given fingerprints to the archive files,
// in Working order, and moves them to the Archived set. The selection must be a leading
// block of the Working set; anything else is a ValidationError and nothing is written.
// The run stops at the first record still marked todo (ErrUnprocessed) or at the first
// write failure; records written before that stay archived. An empty ids list archives
// the whole Working set.
func (s *Session) Archive(ctx context.Context, ids ...string) (int, error) {
	s.mu.Lock()
	w := s.books[Working].store
	batch := w.Records()
	if len(ids) > 0 {
		var err error
		if batch, err = leadingBlock(batch, ids); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}

	var stopErr error
	for i, r := range batch {
		if models.ParseStatus(r.Status).HasKeyword(TodoKeyword) {
			stopErr = fmt.Errorf("%w: %s", ErrUnprocessed, r.Sigmdm())
			batch = batch[:i]
			break
		}
	}

	before := s.archives.Stats()
	n, err := s.archives.ArchiveBatch(batch)
	after := s.archives.Stats()
	s.metrics.ObserveStats(archive.Stats{
		LinesWritten: after.LinesWritten - before.LinesWritten,
		FilesCreated: after.FilesCreated - before.FilesCreated,
	})
	if err != nil {
		stopErr = err
	}
	done := batch[:n]

	w.Delete(done...)
	s.books[Archived].store.Append(done...)
	changes := []change{s.snapshotLocked(Working), s.snapshotLocked(Archived)}
	s.mu.Unlock()

	if n > 0 && s.storage != nil {
		entries := make([]storage.ArchivedEntry, n)
		now := time.Now().UTC()
		for i, r := range done {
			entries[i] = storage.ArchivedEntry{
				ID:         recordid.ID(r),
				Code:       r.Code,
				File:       archive.FileName(r.Year()),
				ArchivedAt: now,
			}
		}
		if err := s.storage.LogArchived(ctx, entries); err != nil {
			s.logger.Warn("Failed to log archived records", zap.Error(err))
		}
	}

	s.logger.Info("Records archived", zap.Int("archived", n), zap.Int("requested", len(ids)))
	s.notify(changes...)
	return n, stopErr
}

// leadingBlock returns the records selected by ids. The selection must be one block
// starting at the first record, so the archive files keep the session order.
func leadingBlock(records []*models.Record, ids []string) ([]*models.Record, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	n := 0
	for _, r := range records {
		id := recordid.ID(r)
		if _, ok := wanted[id]; !ok {
			break
		}
		delete(wanted, id)
		n++
	}
	if len(wanted) == 0 {
		return records[:n], nil
	}
	for _, r := range records[n:] {
		if _, ok := wanted[recordid.ID(r)]; ok {
			return nil, models.NewValidationError("selection", "records must form one block starting at the first session record")
		}
	}
	return nil, fmt.Errorf("%d unknown record(s): %w", len(wanted), store.ErrNotFound)
}

// Export serialises the Working set in its current order.
func (s *Session) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.EncodeSession(s.books[Working].store.Records())
}

// Import replaces the Working set with a saved session.
func (s *Session) Import(data []byte) (int, error) {
	records, err := models.DecodeSession(data)
	if err != nil {
		return 0, err
	}
	s.replaceWorking(records)
	return len(records), nil
}

func (s *Session) replaceWorking(records []*models.Record) {
	s.mu.Lock()
	w := s.books[Working].store
	old := w.Records()
	w.Replace(records)
	s.unindexLocked(old...)
	s.indexLocked(records...)
	c := s.snapshotLocked(Working)
	s.mu.Unlock()

	s.notify(c)
}

// Persist saves the Working set to storage.
func (s *Session) Persist(ctx context.Context) error {
	if s.storage == nil {
		return ErrNoStorage
	}
	records, _ := s.Records(Working)
	if err := s.storage.SaveSession(ctx, records); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	s.logger.Debug("Session persisted", zap.Int("records", len(records)))
	return nil
}

// Restore replaces the Working set with the stored session.
func (s *Session) Restore(ctx context.Context) (int, error) {
	if s.storage == nil {
		return 0, ErrNoStorage
	}
	records, err := s.storage.LoadSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to restore session: %w", err)
	}
	s.replaceWorking(records)
	return len(records), nil
}

// Hash digests the archive files with the configured algorithm.
func (s *Session) Hash() (string, error) {
	return s.archives.Hash(s.hashAlgo)
}

// HashAlgorithm returns the configured archive hash algorithm.
func (s *Session) HashAlgorithm() string { return s.hashAlgo }

// Archives returns the archive file set.
func (s *Session) Archives() *archive.Archives { return s.archives }

// Fuzzy runs a typo-tolerant lookup over both sets. A nil opts uses the session defaults.
func (s *Session) Fuzzy(ctx context.Context, q string, limit int, opts *keyword.SearchOptions) ([]Hit, error) {
	if s.index == nil {
		return nil, ErrNoIndex
	}
	if opts == nil {
		o := s.fuzzy
		opts = &o
	}
	hits, err := s.index.Search(ctx, q, limit, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[string]Hit)
	for set := Archived; set >= Working; set-- {
		for _, r := range s.books[set].store.Records() {
			byID[recordid.ID(r)] = Hit{Set: set, Record: r}
		}
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		found, ok := byID[h.ID]
		if !ok {
			continue
		}
		found.ID = h.ID
		found.Score = h.Score
		found.Record = found.Record.Clone()
		out = append(out, found)
	}
	return out, nil
}

// Close stops the pending debounced filters.
func (s *Session) Close() {
	for _, b := range s.books {
		b.debouncer.Stop()
	}
}
