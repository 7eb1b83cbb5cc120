// Package archive reads and writes the yearly flat-file report archives.
package archive

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/archivext/internal/models"
)

// Archive columns, in file order.
const (
	colDate = iota
	colAuthor
	colCode
	colFlag
	colRespo
	colDesc
	colStatus
	numColumns
)

// headerLines is the number of leading lines (title row and rule) that carry no data.
const headerLines = 2

// DefaultSeparator separates archive columns.
const DefaultSeparator = "|"

// DefaultWidths are the nominal column widths, in file order.
var DefaultWidths = [numColumns]int{5, 12, 14, 11, 24, 100, 60}

var titles = [numColumns]string{"Date", "Auteur Sig.", "Code", "Flag", "Respomap", "Description", "Statut"}

var digitsRe = regexp.MustCompile(`[0-9]+`)

// Codec converts between archive lines and records.
type Codec struct {
	Separator string
	Widths    [numColumns]int
}

// NewCodec returns a codec with the default separator and widths.
func NewCodec() Codec {
	return Codec{Separator: DefaultSeparator, Widths: DefaultWidths}
}

// Validate rejects an empty separator and negative widths.
func (c Codec) Validate() error {
	if c.Separator == "" {
		return models.NewValidationError("separator", "must not be empty")
	}
	for i, w := range c.Widths {
		if w < 0 {
			return models.NewValidationError("widths", "column %s has negative width %d", titles[i], w)
		}
	}
	return nil
}

// YearFromFilename returns the first run of digits in the base name of path.
func YearFromFilename(path string) (int, error) {
	m := digitsRe.FindString(filepath.Base(path))
	if m == "" {
		return 0, &ParseError{File: path, Reason: "no year in file name"}
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return 0, &ParseError{File: path, Reason: fmt.Sprintf("bad year %q in file name", m)}
	}
	return y, nil
}

// Decode parses the contents of an archive file. The first two lines are skipped and the
// year of every record comes from filename. Good records are returned along with every
// line error, joined.
func (c Codec) Decode(contents, filename string) ([]*models.Record, error) {
	year, err := YearFromFilename(filename)
	if err != nil {
		return nil, err
	}
	sep := c.Separator
	if sep == "" {
		sep = DefaultSeparator
	}

	var (
		records []*models.Record
		errs    []error
	)
	lines := strings.Split(contents, "\n")
	for i := headerLines; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := decodeLine(line, sep, year)
		if err != nil {
			errs = append(errs, &ParseError{File: filename, Line: i + 1, Reason: err.Error()})
			continue
		}
		records = append(records, r)
	}
	return records, errors.Join(errs...)
}

func decodeLine(line, sep string, year int) (*models.Record, error) {
	values := strings.Split(line, sep)
	if len(values) != numColumns {
		return nil, fmt.Errorf("got %d columns, want %d", len(values), numColumns)
	}
	for i := range values {
		values[i] = strings.TrimSpace(values[i])
	}
	date, err := models.CanonicalDate(values[colDate], year)
	if err != nil {
		return nil, err
	}
	respo := []string{}
	if values[colRespo] != "" {
		for _, name := range strings.Split(values[colRespo], ",") {
			respo = append(respo, strings.TrimSpace(name))
		}
	}
	return &models.Record{
		Date:        date,
		Author:      values[colAuthor],
		Code:        values[colCode],
		Flag:        values[colFlag],
		Description: values[colDesc],
		Status:      values[colStatus],
		Responsible: respo,
	}, nil
}

// Encode renders r as one archive line, without the trailing newline. Only DD/MM of the
// date is written; the year belongs to the file name. Values longer than their width
// overflow and are never truncated.
func (c Codec) Encode(r *models.Record) string {
	return c.row([numColumns]string{
		colDate:   r.DayMonth(),
		colAuthor: r.Author,
		colCode:   r.Code,
		colFlag:   r.Flag,
		colRespo:  r.ResponsibleString(),
		colDesc:   r.Description,
		colStatus: r.Status,
	})
}

// Header returns the two lines every archive file starts with, newline-terminated.
func (c Codec) Header() string {
	sep := c.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	rule := make([]string, numColumns)
	for i, w := range c.Widths {
		n := w + 2
		if i == 0 || i == numColumns-1 {
			n = w + 1
		}
		rule[i] = strings.Repeat("-", n)
	}
	return c.row(titles) + "\n" + strings.Join(rule, "+") + "\n"
}

func (c Codec) row(values [numColumns]string) string {
	sep := c.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	cells := make([]string, numColumns)
	for i, v := range values {
		cells[i] = fmt.Sprintf("%-*s", c.Widths[i], v)
	}
	return strings.Join(cells, " "+sep+" ")
}
