// Package models defines the report record, its status annotations, and the saved-session format.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical record date format (DD/MM/YY).
const DateLayout = "02/01/06"

// DefaultStatus is the status given to freshly imported records.
const DefaultStatus = "todo"

// Record is a single report. Date, Author, Code, Flag and Description form its identity;
// Status and Responsible are mutable annotations.
type Record struct {
	Date        string   `json:"date"`
	Author      string   `json:"auteur"`
	Code        string   `json:"code"`
	Flag        string   `json:"flag"`
	Description string   `json:"desc"`
	Status      string   `json:"statut"`
	Responsible []string `json:"respo"`
}

// NewRecord returns a record with the default status and an empty responsible list.
func NewRecord(date, author, code, flag, desc string) *Record {
	return &Record{
		Date:        date,
		Author:      author,
		Code:        code,
		Flag:        flag,
		Description: desc,
		Status:      DefaultStatus,
		Responsible: []string{},
	}
}

// Equal reports whether r and o describe the same report. Status and Responsible are ignored.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Date == o.Date &&
		r.Author == o.Author &&
		r.Code == o.Code &&
		r.Flag == o.Flag &&
		r.Description == o.Description
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Responsible = append([]string{}, r.Responsible...)
	return &c
}

// Normalize makes sure Responsible is non-nil.
func (r *Record) Normalize() {
	if r.Responsible == nil {
		r.Responsible = []string{}
	}
}

// Time resolves the record date to a calendar day. Two-digit years map to 20YY.
func (r *Record) Time() (time.Time, error) {
	return ParseDate(r.Date)
}

// Year returns the four-digit year of the record, or 0 when the date is invalid.
func (r *Record) Year() int {
	t, err := r.Time()
	if err != nil {
		return 0
	}
	return t.Year()
}

// DayMonth returns the DD/MM part of the date as stored in archive files.
func (r *Record) DayMonth() string {
	parts := strings.Split(r.Date, "/")
	if len(parts) < 2 {
		return r.Date
	}
	return parts[0] + "/" + parts[1]
}

// ResponsibleString joins the responsible list the way it is displayed and archived.
func (r *Record) ResponsibleString() string {
	return strings.Join(r.Responsible, ", ")
}

// AddResponsible appends name unless it is already listed. Returns true when added.
func (r *Record) AddResponsible(name string) bool {
	for _, n := range r.Responsible {
		if n == name {
			return false
		}
	}
	r.Responsible = append(r.Responsible, name)
	return true
}

// ApplyStatusEdit records an edit made by editor. The editor joins the responsible list.
// A comment of exactly "/reset" clears the responsible list and keeps the previous status.
func (r *Record) ApplyStatusEdit(editor, newStatus string) {
	r.Normalize()
	if editor != "" {
		r.AddResponsible(editor)
	}
	if ParseStatus(newStatus).Comment == ResetComment {
		r.Responsible = []string{}
		return
	}
	r.Status = newStatus
}

// CodeTime decodes the timestamp embedded in codes shaped like "@<10 digit seconds><3 digit millis>".
func (r *Record) CodeTime() (time.Time, bool) {
	digits := strings.TrimPrefix(r.Code, "@")
	if len(digits) != 13 {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(digits[:10], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(digits[10:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, ms*int64(time.Millisecond)), true
}

// Sigmdm renders the record as a moderation chat line.
func (r *Record) Sigmdm() string {
	return fmt.Sprintf("[%s] %s a signalé %s (%s) : %s",
		r.Date, r.Author, strings.TrimPrefix(r.Code, "@"), r.Flag, r.Description)
}

// String implements fmt.Stringer.
func (r *Record) String() string {
	return fmt.Sprintf("(%s, %s, %s, %s, %s, %s, [%s])",
		r.Date, r.Author, r.Code, r.Flag, r.Description, r.Status, r.ResponsibleString())
}

// ParseDate parses a DD/MM/YY date. Day and month may be given without zero padding.
func ParseDate(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid date %q: want DD/MM/YY", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("invalid date %q: %q is not a number", s, p)
		}
		nums[i] = n
	}
	day, month, year := nums[0], nums[1], nums[2]
	if year < 100 {
		year += 2000
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("invalid date %q: no such day", s)
	}
	return t, nil
}

// FormatDate renders t as DD/MM/YY.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// CanonicalDate builds a zero-padded DD/MM/YY date from a "D/M" day-month and a year.
func CanonicalDate(dayMonth string, year int) (string, error) {
	t, err := ParseDate(fmt.Sprintf("%s/%02d", dayMonth, year%100))
	if err != nil {
		return "", err
	}
	return FormatDate(t), nil
}
