package week

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
)

// Week is a canonical week label such as "Week 24".
type Week string

var (
	// ErrUnparseableWeek is returned for numeric labels outside the relative week table.
	ErrUnparseableWeek = errors.New("could not parse week number")
	// ErrInvalidWeek is returned when a label normalizes to a week outside the valid range.
	ErrInvalidWeek = errors.New("invalid week number")
)

// Resolver maps raw week labels to canonical weeks. Normalization of the raw
// format and validation against the valid week set are separate steps.
type Resolver struct {
	ordered  []Week
	valid    map[Week]struct{}
	relative map[int]Week
	width    int
}

func NewResolver(cat *catalog.Catalog) *Resolver {
	labels := cat.WeekLabels()
	r := &Resolver{
		ordered:  make([]Week, 0, len(labels)),
		valid:    make(map[Week]struct{}, len(labels)),
		relative: make(map[int]Week),
		width:    cat.WeekPrefixWidth(),
	}
	for _, label := range labels {
		r.ordered = append(r.ordered, Week(label))
		r.valid[Week(label)] = struct{}{}
	}
	for offset, label := range cat.RelativeWeekLabels() {
		r.relative[offset] = Week(label)
	}
	return r
}

// Weeks returns the valid canonical weeks in order.
func (r *Resolver) Weeks() []Week {
	return append([]Week(nil), r.ordered...)
}

func (r *Resolver) IsValid(w Week) bool {
	_, ok := r.valid[w]
	return ok
}

func (r *Resolver) Resolve(raw string) (Week, error) {
	w, err := r.normalize(raw)
	if err != nil {
		return "", err
	}
	if !r.IsValid(w) {
		return "", fmt.Errorf("%w %q", ErrInvalidWeek, w)
	}
	return w, nil
}

func (r *Resolver) normalize(raw string) (Week, error) {
	n, ok := parseLeadingInt(raw)
	if !ok {
		return Week(truncate(raw, r.width)), nil
	}
	w, ok := r.relative[n]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnparseableWeek, raw)
	}
	return w, nil
}

// parseLeadingInt parses an optionally signed run of digits at the start of s,
// ignoring leading whitespace and anything after the digits ("2 (June)" is 2).
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		// Out of int range: still numeric, and never in the relative table.
		return -1, true
	}
	return n, true
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width])
}
