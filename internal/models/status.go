package models

import "strings"

const (
	// KeywordSeparator joins status keywords.
	KeywordSeparator = " + "
	// CommentSeparator precedes the free-text comment of a status.
	CommentSeparator = " // "
	// ResetComment as a status comment clears the responsible list.
	ResetComment = "/reset"
)

// Status is the decomposed form of a record status: keywords plus an optional comment.
type Status struct {
	Keywords []string
	Comment  string
}

// ParseStatus splits "kw1 + kw2 // comment" into its parts. Empty keywords are dropped.
func ParseStatus(s string) Status {
	var st Status
	head := s
	if i := strings.Index(s, CommentSeparator); i >= 0 {
		head = s[:i]
		st.Comment = s[i+len(CommentSeparator):]
	}
	for _, kw := range strings.Split(head, KeywordSeparator) {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			st.Keywords = append(st.Keywords, kw)
		}
	}
	return st
}

// String renders the status in its archived form.
func (s Status) String() string {
	out := strings.Join(s.Keywords, KeywordSeparator)
	if s.Comment != "" {
		out += CommentSeparator + s.Comment
	}
	return out
}

// HasKeyword reports whether kw is one of the status keywords (case-insensitive).
func (s Status) HasKeyword(kw string) bool {
	for _, k := range s.Keywords {
		if strings.EqualFold(k, kw) {
			return true
		}
	}
	return false
}

// StripComment drops everything from the first " // " on and trims the rest.
func StripComment(status string) string {
	if i := strings.Index(status, CommentSeparator); i >= 0 {
		return strings.TrimSpace(status[:i])
	}
	return status
}
