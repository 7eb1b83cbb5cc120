package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/models"
)

// DefaultPattern matches yearly archive files.
const DefaultPattern = "archives_[0-9][0-9][0-9][0-9].txt"

// FileName returns the archive file name for year.
func FileName(year int) string {
	return fmt.Sprintf("archives_%04d.txt", year)
}

// Stats counts what a load or write did.
type Stats struct {
	FilesRead     int
	FilesSkipped  int
	LinesRead     int
	LinesRejected int
	LinesWritten  int
	FilesCreated  int
	// Problems holds the recovered per-file and per-line errors.
	Problems []error
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.FilesRead += o.FilesRead
	s.FilesSkipped += o.FilesSkipped
	s.LinesRead += o.LinesRead
	s.LinesRejected += o.LinesRejected
	s.LinesWritten += o.LinesWritten
	s.FilesCreated += o.FilesCreated
	s.Problems = append(s.Problems, o.Problems...)
}

// Archives is a directory of archive files matching a glob pattern.
type Archives struct {
	Dir     string
	Pattern string

	codec         Codec
	strict        bool
	stripComments bool
	logger        *zap.Logger

	mu    sync.Mutex
	total Stats
}

// Option configures Archives.
type Option func(*Archives)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Archives) { a.logger = l }
}

// WithCodec replaces the default codec.
func WithCodec(c Codec) Option {
	return func(a *Archives) { a.codec = c }
}

// WithStrict makes a malformed line discard its whole file instead of only the line.
func WithStrict(strict bool) Option {
	return func(a *Archives) { a.strict = strict }
}

// WithStripComments drops the "// comment" part of statuses when archiving.
func WithStripComments(strip bool) Option {
	return func(a *Archives) { a.stripComments = strip }
}

// New returns the archive set for dir. An empty pattern selects DefaultPattern.
func New(dir, pattern string, opts ...Option) (*Archives, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, models.NewValidationError("archive pattern", "%q: %v", pattern, err)
	}
	a := &Archives{
		Dir:     dir,
		Pattern: pattern,
		codec:   NewCodec(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.codec.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Codec returns the codec in use.
func (a *Archives) Codec() Codec { return a.codec }

// Files lists the matching archive files in lexical order.
func (a *Archives) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(a.Dir, a.Pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Matches reports whether path names an archive file of this set.
func (a *Archives) Matches(path string) bool {
	ok, _ := filepath.Match(a.Pattern, filepath.Base(path))
	return ok
}

// Fetch reads every archive file. Unreadable files and malformed lines are logged,
// counted and skipped; only a cancelled context or a bad pattern is returned as an error.
func (a *Archives) Fetch(ctx context.Context) ([]*models.Record, Stats, error) {
	var (
		records []*models.Record
		stats   Stats
	)
	files, err := a.Files()
	if err != nil {
		return nil, stats, err
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return records, stats, err
		}
		a.logger.Info("Reading archive", zap.String("file", file))
		data, err := os.ReadFile(file)
		if err != nil {
			ioErr := &IOError{Op: "read", Path: file, Err: err}
			a.logger.Error("Failed to read archive", zap.String("file", file), zap.Error(err))
			stats.FilesSkipped++
			stats.Problems = append(stats.Problems, ioErr)
			continue
		}

		recs, err := a.codec.Decode(string(data), file)
		rejected := countParseErrors(err)
		stats.LinesRead += len(recs) + rejected
		if err != nil {
			a.logger.Warn("Malformed archive lines", zap.String("file", file), zap.Int("rejected", rejected), zap.Error(err))
			stats.LinesRejected += rejected
			stats.Problems = append(stats.Problems, err)
			if a.strict || rejected == 0 {
				stats.FilesSkipped++
				continue
			}
		}
		stats.FilesRead++
		records = append(records, recs...)
	}
	a.record(stats)
	return records, stats, nil
}

// countParseErrors counts the line errors inside a joined error.
func countParseErrors(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range joined.Unwrap() {
			var pe *ParseError
			if errors.As(e, &pe) && pe.Line > 0 {
				n++
			}
		}
		return n
	}
	var pe *ParseError
	if errors.As(err, &pe) && pe.Line > 0 {
		return 1
	}
	return 0
}

// ArchiveOne appends r to the archive file of its year, creating the file with its
// header when needed.
func (a *Archives) ArchiveOne(r *models.Record) error {
	stats, err := a.archive(r)
	a.record(stats)
	return err
}

// ArchiveBatch appends records in order and stops at the first failure. Lines already
// written stay written. It returns how many records were archived.
func (a *Archives) ArchiveBatch(records []*models.Record) (int, error) {
	var total Stats
	defer func() { a.record(total) }()
	for i, r := range records {
		stats, err := a.archive(r)
		total.Add(stats)
		if err != nil {
			return i, err
		}
	}
	return len(records), nil
}

func (a *Archives) archive(r *models.Record) (Stats, error) {
	var stats Stats
	year := r.Year()
	if year == 0 {
		return stats, models.NewValidationError("date", "record %s has no valid date %q", r.Code, r.Date)
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return stats, &IOError{Op: "mkdir", Path: a.Dir, Err: err}
	}
	path := filepath.Join(a.Dir, FileName(year))
	created, err := a.ensureFile(path)
	if err != nil {
		a.logger.Error("Failed to create archive", zap.String("file", path), zap.Error(err))
		return stats, err
	}
	if created {
		stats.FilesCreated++
		a.logger.Info("Created archive file", zap.String("file", path))
	}

	out := r
	if a.stripComments {
		out = r.Clone()
		out.Status = models.StripComment(out.Status)
	}
	line := a.codec.Encode(out) + "\n"
	if err := appendLine(path, line); err != nil {
		a.logger.Error("Failed to write archive", zap.String("file", path), zap.Error(err))
		return stats, err
	}
	stats.LinesWritten++
	a.logger.Debug("Archived record", zap.String("file", path), zap.String("code", r.Code))
	return stats, nil
}

// ensureFile creates path with the header if it does not exist yet.
func (a *Archives) ensureFile(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, &IOError{Op: "create", Path: path, Err: err}
	}
	_, werr := f.WriteString(a.codec.Header())
	cerr := f.Close()
	if werr != nil {
		return true, &IOError{Op: "write", Path: path, Err: werr}
	}
	if cerr != nil {
		return true, &IOError{Op: "close", Path: path, Err: cerr}
	}
	return true, nil
}

// appendLine appends line, first terminating a last line left without a newline.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
			f.Close()
			return &IOError{Op: "read", Path: path, Err: err}
		}
		if last[0] != '\n' {
			line = "\n" + line
		}
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "close", Path: path, Err: err}
	}
	return nil
}

// Hash digests every archive file, in Files order.
func (a *Archives) Hash(algo string) (string, error) {
	files, err := a.Files()
	if err != nil {
		return "", err
	}
	return HashFiles(files, algo)
}

// Stats returns the counters accumulated by this archive set since creation.
// Problems are only reported by the call that met them.
func (a *Archives) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

func (a *Archives) record(s Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s.Problems = nil
	a.total.Add(s)
}
