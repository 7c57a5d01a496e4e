package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tupyy/docjobs/internal/store"
	"github.com/tupyy/docjobs/pkg/jobs"
)

// parsePageRanges parses 1-based page ranges such as "1-3,5,8-". An open
// end runs to the last page. An empty string selects every page.
func parsePageRanges(s string) ([]jobs.PageRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var ranges []jobs.PageRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		first, last, isRange := strings.Cut(part, "-")

		start, err := parsePage(first)
		if err != nil {
			return nil, fmt.Errorf("invalid page range %q: %w", part, err)
		}
		r := jobs.PageRange{Start: start, End: start}
		if isRange {
			r.End = -1
			if strings.TrimSpace(last) != "" {
				if r.End, err = parsePage(last); err != nil {
					return nil, fmt.Errorf("invalid page range %q: %w", part, err)
				}
				if r.End < r.Start {
					return nil, fmt.Errorf("invalid page range %q: end before start", part)
				}
			}
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parsePage(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("page %d out of range", n)
	}
	return n - 1, nil
}

func parsePageSet(s string) (jobs.PageSet, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return jobs.PageSetAll, nil
	case "even":
		return jobs.PageSetEven, nil
	case "odd":
		return jobs.PageSetOdd, nil
	default:
		return jobs.PageSetAll, fmt.Errorf("invalid page set %q: must be all, even or odd", s)
	}
}

// parseSort parses "field" or "field:desc" items.
func parseSort(items []string) []store.SortParam {
	out := make([]store.SortParam, 0, len(items))
	for _, item := range items {
		field, dir, _ := strings.Cut(item, ":")
		out = append(out, store.SortParam{Field: field, Desc: strings.EqualFold(dir, "desc")})
	}
	return out
}
