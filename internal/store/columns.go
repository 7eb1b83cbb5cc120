package store

import (
	"strconv"
	"strings"

	"github.com/hyperjump/archivext/internal/models"
)

// Column identifies a record column. ColNum is the 1-based position in the store.
type Column int

const (
	ColNum Column = iota
	ColDate
	ColAuthor
	ColCode
	ColFlag
	ColDesc
	ColStatus
	ColRespo
	numColumns
)

// Key is a sort key: Num is compared first, then Text.
type Key struct {
	Num  int64
	Text string
}

func (k Key) compare(o Key) int {
	switch {
	case k.Num < o.Num:
		return -1
	case k.Num > o.Num:
		return 1
	}
	return strings.Compare(k.Text, o.Text)
}

// Field describes how a column is read, filtered and sorted.
type Field struct {
	Label  string
	Header string
	// Value returns the displayed cell. pos is the 1-based position of the record.
	Value func(pos int, r *models.Record) string
	// Key returns the sort key.
	Key func(pos int, r *models.Record) Key
}

func textKey(get func(r *models.Record) string) func(int, *models.Record) Key {
	return func(_ int, r *models.Record) Key { return Key{Text: strings.ToLower(get(r))} }
}

func textValue(get func(r *models.Record) string) func(int, *models.Record) string {
	return func(_ int, r *models.Record) string { return get(r) }
}

// dateKey orders by year, month, day. Unparsable dates sort first.
func dateKey(_ int, r *models.Record) Key {
	t, err := r.Time()
	if err != nil {
		return Key{Num: -1, Text: r.Date}
	}
	return Key{Num: int64(t.Year()*10000 + int(t.Month())*100 + t.Day())}
}

// defaultFields is the label -> accessor table, indexed by Column.
func defaultFields() []Field {
	author := func(r *models.Record) string { return r.Author }
	code := func(r *models.Record) string { return r.Code }
	flag := func(r *models.Record) string { return r.Flag }
	desc := func(r *models.Record) string { return r.Description }
	status := func(r *models.Record) string { return r.Status }
	respo := func(r *models.Record) string { return r.ResponsibleString() }
	return []Field{
		ColNum: {
			Label:  "num",
			Header: "#",
			Value:  func(pos int, _ *models.Record) string { return strconv.Itoa(pos) },
			Key:    func(pos int, _ *models.Record) Key { return Key{Num: int64(pos)} },
		},
		ColDate:   {Label: "date", Header: "Date", Value: textValue(func(r *models.Record) string { return r.Date }), Key: dateKey},
		ColAuthor: {Label: "auteur", Header: "Auteur", Value: textValue(author), Key: textKey(author)},
		ColCode:   {Label: "code", Header: "Code", Value: textValue(code), Key: textKey(code)},
		ColFlag:   {Label: "flag", Header: "Flag", Value: textValue(flag), Key: textKey(flag)},
		ColDesc:   {Label: "desc", Header: "Description", Value: textValue(desc), Key: textKey(desc)},
		ColStatus: {Label: "statut", Header: "Statut", Value: textValue(status), Key: textKey(status)},
		ColRespo:  {Label: "respo", Header: "Respomap(s)", Value: textValue(respo), Key: textKey(respo)},
	}
}

// Labels returns the tag vocabulary in column order.
func Labels() []string {
	fields := defaultFields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Label
	}
	return out
}

// Headers returns the display headers in column order.
func Headers() []string {
	fields := defaultFields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Header
	}
	return out
}

// ParseColumn resolves a label ("auteur") or header ("Auteur") to a column.
func ParseColumn(name string) (Column, bool) {
	for i, f := range defaultFields() {
		if strings.EqualFold(name, f.Label) || strings.EqualFold(name, f.Header) {
			return Column(i), true
		}
	}
	return 0, false
}

// String returns the column label.
func (c Column) String() string {
	if c < 0 || c >= numColumns {
		return "column(" + strconv.Itoa(int(c)) + ")"
	}
	return defaultFields()[c].Label
}
