// Package scanner holds the shared domain model for the Reddit lead
// scanner: query and post types, the interfaces implemented by external
// collaborators (authentication, the listing API, scoring, persistence),
// the error taxonomy used across the fetch pipeline, and the result
// filter predicates.
package scanner
