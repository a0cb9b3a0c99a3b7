package cache

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robertmeta/saveit/model"
)

// Query narrows a snapshot for listing.
type Query struct {
	Search string
	// Since keeps sources viewed on or after this date. Zero means no limit.
	Since  time.Time
	Limit  int
	Offset int
}

// durationPattern matches duration strings like "7d", "2w", "3m", "1y"
var durationPattern = regexp.MustCompile(`^(\d+)([dwmy])$`)

// ParseDuration parses a duration string like "7d", "2w", "3m", "1y".
//
// Supported units:
//   - d: days
//   - w: weeks (7 days)
//   - m: months (30 days, approximation)
//   - y: years (365 days, approximation)
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration string is empty")
	}

	matches := durationPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration format: %s (expected format: <number><unit>, e.g., 7d, 2w, 3m, 1y)", s)
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid number in duration: %s", matches[1])
	}

	day := 24 * time.Hour
	switch matches[2] {
	case "d":
		return time.Duration(num) * day, nil
	case "w":
		return time.Duration(num) * 7 * day, nil
	case "m":
		return time.Duration(num) * 30 * day, nil
	default:
		return time.Duration(num) * 365 * day, nil
	}
}

// BuildQuery constructs a Query from CLI flags. since is relative to today.
func BuildQuery(search, since string, limit, offset int) (Query, error) {
	q := Query{Search: search, Limit: limit, Offset: offset}
	if since != "" {
		d, err := ParseDuration(since)
		if err != nil {
			return q, fmt.Errorf("failed to parse --since flag: %w", err)
		}
		q.Since = model.Today().Add(-d)
	}
	return q, nil
}

// Filter applies q to sources without modifying them.
func Filter(sources []model.Source, q Query) []model.Source {
	out := []model.Source{}
	skipped := 0
	for _, src := range sources {
		if q.Search != "" && !src.Contains(q.Search) {
			continue
		}
		if !q.Since.IsZero() && src.ViewedDate.Before(q.Since) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, src)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
