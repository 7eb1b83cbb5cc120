package query

import (
	"regexp"
	"strings"
)

// maxSuggestDistance is the largest edit distance at which a label is still suggested.
const maxSuggestDistance = 2

// labelLike matches tokens shaped like a label, e.g. "auter:".
var labelLike = regexp.MustCompile(`(\p{L}+):`)

// Suggestion pairs an unknown "word:" token of a query with the closest label.
type Suggestion struct {
	Token string
	Label string
}

// Suggest returns the label closest to word, or "" when none is within reach.
// Exact (case-insensitive) labels are not suggestions.
func (p *Parser) Suggest(word string) string {
	w := strings.ToLower(word)
	best, bestDist := "", maxSuggestDistance+1
	for _, l := range p.labels {
		ll := strings.ToLower(l)
		if ll == w {
			return ""
		}
		if d := levenshteinDistance(w, ll); d < bestDist {
			best, bestDist = l, d
		}
	}
	return best
}

// Misspelled lists the "word:" tokens of query that are not labels but look like one.
func (p *Parser) Misspelled(query string) []Suggestion {
	var out []Suggestion
	for _, m := range labelLike.FindAllStringSubmatch(query, -1) {
		if label := p.Suggest(m[1]); label != "" {
			out = append(out, Suggestion{Token: m[1], Label: label})
		}
	}
	return out
}

// levenshteinDistance returns the minimum number of single-rune edits turning a into b.
func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minOf(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minOf(a, b, c int) int {
	if a <= b && a <= c {
		return a
	}
	if b <= c {
		return b
	}
	return c
}
