package scanner

import (
	"context"
	"io"
	"time"
)

// Authenticator manages credentials for accounts. Implementations own
// token storage and the refresh flow; the pool only asks for a usable
// token when an account is added.
type Authenticator interface {
	LoadToken(ctx context.Context, username string) (Token, error)
	Refresh(ctx context.Context, token Token) (Token, error)
	Validate(ctx context.Context, token Token) bool
}

// Source fetches a listing from one named subreddit (empty name means a
// site-wide search). Implementations return *RateLimitedError when the
// upstream signals throttling and *TransportError for other failures.
type Source interface {
	Fetch(ctx context.Context, subreddit string, query Query, cred Token) ([]Post, error)
}

// Scorer annotates a post with a business score. Implementations must be
// pure and safe to call from any worker goroutine.
type Scorer interface {
	Score(post Post) ScoredPost
}

// Publisher pushes lead events to Pub/Sub (or an in-memory double).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ResultStore persists scored posts for a completed query run.
type ResultStore interface {
	StoreResults(ctx context.Context, queryID string, posts []ScoredPost) error
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces query IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
