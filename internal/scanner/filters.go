package scanner

import (
	"strings"
	"time"
)

// PassesFilters reports whether a single post satisfies the query's
// predicates. The streaming path applies this per item before scoring so
// non-matching posts are never buffered.
func PassesFilters(p Post, q Query, now time.Time) bool {
	if !q.IncludeNSFW && p.Over18 {
		return false
	}
	if p.Score < q.MinScore {
		return false
	}
	if q.MaxAgeDays > 0 {
		cutoff := now.AddDate(0, 0, -q.MaxAgeDays)
		if p.CreatedUTC.Before(cutoff) {
			return false
		}
	}
	if q.AuthorFilter != "" && !strings.EqualFold(p.Author, q.AuthorFilter) {
		return false
	}
	if q.DomainFilter != "" && !matchDomain(p.Domain, q.DomainFilter) {
		return false
	}
	return true
}

// ApplyFilters runs the filter pipeline over a batch of posts, preserving
// fetch order among the survivors.
func ApplyFilters(posts []Post, q Query, now time.Time) []Post {
	filtered := make([]Post, 0, len(posts))
	for _, p := range posts {
		if PassesFilters(p, q, now) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func matchDomain(domain, filter string) bool {
	domain = strings.ToLower(domain)
	filter = strings.ToLower(filter)
	return domain == filter || strings.HasSuffix(domain, "."+filter)
}
