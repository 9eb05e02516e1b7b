package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRanges parses a comma separated list of 1-based pages and inclusive
// start-end pairs, such as "1-3, 5". It returns one group of page numbers
// per token. Every page must lie in [1, total].
func ParseRanges(expr string, total int) ([][]int, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &RangeError{Token: expr, Reason: "empty expression"}
	}
	tokens := strings.Split(expr, ",")
	out := make([][]int, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, &RangeError{Token: tok, Reason: "empty token"}
		}
		lo, hi, err := parseToken(tok, total)
		if err != nil {
			return nil, err
		}
		group := make([]int, 0, hi-lo+1)
		for p := lo; p <= hi; p++ {
			group = append(group, p)
		}
		out = append(out, group)
	}
	return out, nil
}

func parseToken(tok string, total int) (int, int, error) {
	first, last, isRange := strings.Cut(tok, "-")
	lo, err := pageNumber(first)
	if err != nil {
		return 0, 0, &RangeError{Token: tok, Reason: err.Error()}
	}
	hi := lo
	if isRange {
		if hi, err = pageNumber(last); err != nil {
			return 0, 0, &RangeError{Token: tok, Reason: err.Error()}
		}
	}
	switch {
	case lo > hi:
		return 0, 0, &RangeError{Token: tok, Reason: "start is after end"}
	case lo < 1 || hi > total:
		return 0, 0, &RangeError{Token: tok, Reason: fmt.Sprintf("outside pages 1-%d", total)}
	}
	return lo, hi, nil
}

func pageNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%q is not a page number", s)
	}
	return n, nil
}
