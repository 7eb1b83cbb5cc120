// Package query splits a search string into an untagged free-text part and labeled segments
// such as "auteur:smith code:123".
package query

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultLabels is the tag vocabulary, in record column order.
var DefaultLabels = []string{"num", "date", "auteur", "code", "flag", "desc", "statut", "respo"}

// Span is the half-open byte range [Start, End) of a "label:" token in the raw query.
type Span struct {
	Start int
	End   int
}

func (s Span) less(o Span) bool {
	if s.Start != o.Start {
		return s.Start < o.Start
	}
	return s.End < o.End
}

// Tag is either Untagged or Labeled.
type Tag interface {
	// Text returns the raw, untrimmed content attached to the tag.
	Text() string
	isTag()
}

// Untagged holds the text typed before the first label.
type Untagged struct {
	Content string
}

// Labeled is one "label:content" segment.
type Labeled struct {
	Label   string
	Field   int // index of Label in the parser vocabulary
	Span    Span
	Content string
}

func (u Untagged) Text() string { return u.Content }
func (Untagged) isTag()         {}
func (l Labeled) Text() string  { return l.Content }
func (Labeled) isTag()          {}

// Parser parses queries against a fixed label vocabulary.
type Parser struct {
	labels   []string
	patterns []*regexp.Regexp
}

// NewParser creates a parser for labels. Duplicate labels are ignored; order is kept.
func NewParser(labels []string) *Parser {
	p := &Parser{}
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		p.labels = append(p.labels, l)
		p.patterns = append(p.patterns, regexp.MustCompile("(?i)"+regexp.QuoteMeta(l)+":"))
	}
	return p
}

// Labels returns the parser vocabulary.
func (p *Parser) Labels() []string {
	return append([]string(nil), p.labels...)
}

// Parse splits query into tags. The first element is always Untagged. Every occurrence of a
// label becomes its own Labeled tag, ordered by position.
func (p *Parser) Parse(query string) []Tag {
	var found []Labeled
	for field, re := range p.patterns {
		for _, loc := range re.FindAllStringIndex(query, -1) {
			found = append(found, Labeled{
				Label: p.labels[field],
				Field: field,
				Span:  Span{Start: loc[0], End: loc[1]},
			})
		}
	}
	if len(found) == 0 {
		return []Tag{Untagged{Content: query}}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].Span.less(found[j].Span) })
	for i := range found {
		end := len(query)
		if i < len(found)-1 {
			end = found[i+1].Span.Start
		}
		found[i].Content = substring(query, found[i].Span.End, end)
	}

	tags := make([]Tag, 0, len(found)+1)
	tags = append(tags, Untagged{Content: query[:found[0].Span.Start]})
	for _, l := range found {
		tags = append(tags, l)
	}
	return tags
}

// Split separates the untagged head from the labeled tags.
func Split(tags []Tag) (Untagged, []Labeled) {
	var free Untagged
	labeled := make([]Labeled, 0, len(tags))
	for _, t := range tags {
		switch v := t.(type) {
		case Untagged:
			free = v
		case Labeled:
			labeled = append(labeled, v)
		}
	}
	return free, labeled
}

// Reconstruct rebuilds the raw query from its tags.
// It is exact whenever no two label spans overlap.
func Reconstruct(query string, tags []Tag) string {
	var b strings.Builder
	for _, t := range tags {
		if l, ok := t.(Labeled); ok {
			b.WriteString(query[l.Span.Start:l.Span.End])
		}
		b.WriteString(t.Text())
	}
	return b.String()
}

// substring returns s[start:end], or "" when overlapping spans make the range empty.
func substring(s string, start, end int) string {
	if start >= end {
		return ""
	}
	return s[start:end]
}
