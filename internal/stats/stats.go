// Package stats aggregates counters across the pool and orchestrator and
// derives throughput figures for the stats endpoint.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/bizradar/reddit-scanner/internal/account"
	"github.com/bizradar/reddit-scanner/internal/metrics"
	"github.com/bizradar/reddit-scanner/internal/scanner"
)

// Aggregator collects scanner-wide counters. All methods are safe for
// concurrent use.
type Aggregator struct {
	requests      atomic.Int64
	errors        atomic.Int64
	postsAnalyzed atomic.Int64
	leadsFound    atomic.Int64
	active        atomic.Int64

	clock   scanner.Clock
	started time.Time
}

// New builds an Aggregator anchored at the clock's current time. A nil
// clock falls back to the system clock.
func New(clock scanner.Clock) *Aggregator {
	metrics.Init()
	if clock == nil {
		clock = systemClock{}
	}
	return &Aggregator{
		clock:   clock,
		started: clock.Now(),
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RecordRequest counts one completed API request.
func (a *Aggregator) RecordRequest() {
	a.requests.Add(1)
}

// RecordError counts one failed request or sub-task.
func (a *Aggregator) RecordError() {
	a.errors.Add(1)
}

// AddPostsAnalyzed counts posts run through the scorer.
func (a *Aggregator) AddPostsAnalyzed(n int) {
	a.postsAnalyzed.Add(int64(n))
	metrics.AddPostsScored(n)
}

// AddLeadsFound counts posts that cleared the lead threshold.
func (a *Aggregator) AddLeadsFound(n int) {
	a.leadsFound.Add(int64(n))
	metrics.AddLeadsFound(n)
}

// EnterFetch marks a fetch operation as in flight.
func (a *Aggregator) EnterFetch() {
	a.active.Add(1)
	metrics.IncActiveFetches()
}

// LeaveFetch marks a fetch operation as finished.
func (a *Aggregator) LeaveFetch() {
	a.active.Add(-1)
	metrics.DecActiveFetches()
}

// ActiveFetches returns the number of fetches currently in flight.
func (a *Aggregator) ActiveFetches() int64 {
	return a.active.Load()
}

// Snapshot is a point-in-time view of scanner performance.
type Snapshot struct {
	RuntimeSeconds    float64                       `json:"runtime_seconds"`
	RequestsMade      int64                         `json:"requests_made"`
	Errors            int64                         `json:"errors"`
	PostsAnalyzed     int64                         `json:"posts_analyzed"`
	LeadsFound        int64                         `json:"leads_found"`
	ActiveFetches     int64                         `json:"active_fetches"`
	RequestsPerSecond float64                       `json:"requests_per_second"`
	PostsPerSecond    float64                       `json:"posts_per_second"`
	ErrorRate         float64                       `json:"error_rate"`
	Accounts          map[string]account.UsageStats `json:"accounts"`
}

// Snapshot derives throughput from the counters and folds in per-account
// usage from the pool.
func (a *Aggregator) Snapshot(accounts map[string]account.UsageStats) Snapshot {
	runtime := a.clock.Now().Sub(a.started).Seconds()
	if runtime < 1 {
		runtime = 1
	}
	requests := a.requests.Load()
	posts := a.postsAnalyzed.Load()
	errs := a.errors.Load()

	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(errs) / float64(requests)
	}
	return Snapshot{
		RuntimeSeconds:    runtime,
		RequestsMade:      requests,
		Errors:            errs,
		PostsAnalyzed:     posts,
		LeadsFound:        a.leadsFound.Load(),
		ActiveFetches:     a.active.Load(),
		RequestsPerSecond: float64(requests) / runtime,
		PostsPerSecond:    float64(posts) / runtime,
		ErrorRate:         errorRate,
		Accounts:          accounts,
	}
}
