// Package sigparser turns pasted moderation log lines into records.
//
// A report line looks like:
//
//	[5/3] Bob a signalé 1678000000123 (cheat) : wall hack
package sigparser

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/models"
)

var lineRe = regexp.MustCompile(`^\[([0-9]{1,2}/[0-9]{1,2})\] ([a-zA-Z]{1,12}) a signalé ([0-9]{13}) \((.*)\) : (.+)`)

// Result is the outcome of one Parse call.
type Result struct {
	Records    []*models.Record
	Skipped    int // non-blank lines that are not reports
	Duplicates int // reports dropped because an equal one was seen
}

// Parser parses report lines.
type Parser struct {
	year            int
	allowDuplicates bool
	logger          *zap.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithYear sets the year completing the D/M dates of report lines.
func WithYear(year int) Option {
	return func(p *Parser) { p.year = year }
}

// WithAllowDuplicates keeps reports equal to an earlier one.
func WithAllowDuplicates(allow bool) Option {
	return func(p *Parser) { p.allowDuplicates = allow }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// New creates a parser. By default duplicates are dropped and dates use the current year.
func New(opts ...Option) *Parser {
	p := &Parser{year: time.Now().Year(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts the reports of text. When duplicates are not allowed, a report equal to
// one in previous is dropped, and a report repeated within text keeps only its last
// occurrence.
func (p *Parser) Parse(text string, previous []*models.Record) Result {
	var res Result
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, ok := p.parseLine(line)
		if !ok {
			res.Skipped++
			p.logger.Debug("Not a report line", zap.String("line", line))
			continue
		}
		if !p.allowDuplicates {
			if contains(previous, r) {
				res.Duplicates++
				continue
			}
			if i := index(res.Records, r); i >= 0 {
				res.Records = append(res.Records[:i], res.Records[i+1:]...)
				res.Duplicates++
			}
		}
		res.Records = append(res.Records, r)
		p.logger.Debug("Parsed report", zap.Stringer("record", r))
	}
	return res
}

func (p *Parser) parseLine(line string) (*models.Record, bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	date, err := models.CanonicalDate(m[1], p.year)
	if err != nil {
		return nil, false
	}
	return models.NewRecord(date, m[2], "@"+m[3], m[4], strings.TrimSpace(m[5])), true
}

func index(records []*models.Record, r *models.Record) int {
	for i, o := range records {
		if o.Equal(r) {
			return i
		}
	}
	return -1
}

func contains(records []*models.Record, r *models.Record) bool {
	return index(records, r) >= 0
}
