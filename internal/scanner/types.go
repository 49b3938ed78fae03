package scanner

import "time"

// SortMode selects the listing order requested from the content API.
type SortMode string

// Supported sort modes.
const (
	SortRelevance SortMode = "relevance"
	SortHot       SortMode = "hot"
	SortNew       SortMode = "new"
	SortTop       SortMode = "top"
	SortComments  SortMode = "comments"
)

// TimeFilter narrows search results to a trailing window.
type TimeFilter string

// Supported time filters.
const (
	TimeAll   TimeFilter = "all"
	TimeYear  TimeFilter = "year"
	TimeMonth TimeFilter = "month"
	TimeWeek  TimeFilter = "week"
	TimeDay   TimeFilter = "day"
	TimeHour  TimeFilter = "hour"
)

// Query describes one search to run. A Query is immutable once submitted
// to the orchestrator; ID is assigned by the caller and keys the entry in
// the BatchOutcome.
type Query struct {
	ID           string
	Text         string
	Subreddits   []string
	Sort         SortMode
	TimeFilter   TimeFilter
	Limit        int
	IncludeNSFW  bool
	MinScore     int
	MaxAgeDays   int
	AuthorFilter string
	DomainFilter string
}

// Post is one raw content item returned by a Source before scoring.
type Post struct {
	ID          string
	Title       string
	Text        string
	Author      string
	Subreddit   string
	Domain      string
	URL         string
	Permalink   string
	CreatedUTC  time.Time
	Score       int
	NumComments int
	IsSelf      bool
	Over18      bool
}

// ScoredPost is a Post annotated by the Scorer. Immutable after scoring;
// ownership transfers to the caller when returned.
type ScoredPost struct {
	Post
	BusinessScore     float64
	Urgency           string
	ProblemIndicators []string
}

// QueryOutcome is the terminal state of a single query within a batch.
// Posts and Err may both be set: that is a partial failure, where some
// sources succeeded and others did not.
type QueryOutcome struct {
	Posts []ScoredPost
	Err   error
}

// Partial reports whether the outcome carries results alongside an error.
func (o QueryOutcome) Partial() bool {
	return o.Err != nil && len(o.Posts) > 0
}

// BatchOutcome maps Query.ID to its outcome. The orchestrator guarantees
// exactly one entry per submitted query, even when a query fails outright.
type BatchOutcome map[string]QueryOutcome

// Token is an opaque credential handle for one account. Acquisition and
// refresh are the Authenticator's concern; the scanner only carries tokens
// between the pool and the Source.
type Token struct {
	Username     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// IsExpired reports whether the access token has passed its expiry,
// allowing a small clock-skew margin.
func (t Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(time.Minute).Before(t.ExpiresAt)
}
