// Package orchestrator runs search queries against the content API,
// bounding total in-flight fetches, rotating accounts, and dispatching
// scoring across a bounded worker pool.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bizradar/reddit-scanner/internal/account"
	"github.com/bizradar/reddit-scanner/internal/metrics"
	"github.com/bizradar/reddit-scanner/internal/progress"
	"github.com/bizradar/reddit-scanner/internal/scanner"
	"github.com/bizradar/reddit-scanner/internal/stats"
)

// Config controls orchestrator behavior.
type Config struct {
	// MaxConcurrentRequests caps total outstanding fetch operations
	// across the whole batch or stream.
	MaxConcurrentRequests int
	// RequestTimeout bounds each fetch sub-task; expiry is a recoverable
	// per-sub-task error.
	RequestTimeout time.Duration
	// RetryAttempts is how many extra scheduling passes a rate-limited
	// sub-task gets before its error is surfaced.
	RetryAttempts int
	// LeadThreshold is the business score above which a post counts as a
	// lead in the aggregate stats.
	LeadThreshold float64
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(clock scanner.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithStats attaches a shared stats aggregator.
func WithStats(agg *stats.Aggregator) Option {
	return func(o *Orchestrator) { o.stats = agg }
}

// WithProgress attaches a progress emitter.
func WithProgress(emitter progress.Emitter) Option {
	return func(o *Orchestrator) { o.progress = emitter }
}

// Orchestrator fans queries out into per-source fetch tasks under a
// global concurrency budget and returns scored, filtered results.
type Orchestrator struct {
	pool     *account.Pool
	source   scanner.Source
	scorer   scanner.Scorer
	sem      *semaphore.Weighted
	cfg      Config
	stats    *stats.Aggregator
	progress progress.Emitter
	clock    scanner.Clock
	logger   *zap.Logger
}

// New builds an Orchestrator.
func New(pool *account.Pool, source scanner.Source, scorer scanner.Scorer, cfg Config, opts ...Option) *Orchestrator {
	metrics.Init()
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 5
	}
	if cfg.LeadThreshold <= 0 {
		cfg.LeadThreshold = 1.0
	}
	o := &Orchestrator{
		pool:   pool,
		source: source,
		scorer: scorer,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		cfg:    cfg,
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stats == nil {
		o.stats = stats.New(o.clock)
	}
	return o
}

// Stats returns the aggregator shared with this orchestrator.
func (o *Orchestrator) Stats() *stats.Aggregator {
	return o.stats
}

// FetchBatch runs every query concurrently and returns exactly one
// outcome per submitted query. A query's failure never affects its
// siblings, and the batch itself does not fail.
func (o *Orchestrator) FetchBatch(ctx context.Context, queries []scanner.Query) scanner.BatchOutcome {
	out := make(scanner.BatchOutcome, len(queries))
	if len(queries) == 0 {
		return out
	}
	o.emit(progress.Event{TS: o.clock.Now(), Stage: progress.StageBatchStart, Total: len(queries)})

	var mu sync.Mutex
	var wg sync.WaitGroup
	completed := 0
	for _, q := range queries {
		wg.Add(1)
		go func(q scanner.Query) {
			defer wg.Done()
			started := o.clock.Now()
			outcome := o.runQuery(ctx, q)

			mu.Lock()
			out[q.ID] = outcome
			completed++
			done := completed
			mu.Unlock()

			stage := progress.StageQueryDone
			note := ""
			if outcome.Err != nil {
				note = outcome.Err.Error()
				if len(outcome.Posts) == 0 {
					stage = progress.StageQueryError
				}
			}
			o.emit(progress.Event{
				TS:        o.clock.Now(),
				Stage:     stage,
				QueryID:   q.ID,
				Posts:     len(outcome.Posts),
				Completed: done,
				Total:     len(queries),
				Dur:       o.clock.Now().Sub(started),
				Note:      note,
			})
		}(q)
	}
	wg.Wait()

	o.emit(progress.Event{TS: o.clock.Now(), Stage: progress.StageBatchDone, Completed: len(queries), Total: len(queries)})
	return out
}

// runQuery fans one query out across its sources, then filters, scores,
// and sorts the combined results.
func (o *Orchestrator) runQuery(ctx context.Context, q scanner.Query) scanner.QueryOutcome {
	sources := q.Subreddits
	if len(sources) == 0 {
		// Site-wide search.
		sources = []string{""}
	}

	type subResult struct {
		posts []scanner.Post
		err   error
	}
	results := make([]subResult, len(sources))
	var wg sync.WaitGroup
	for i, sub := range sources {
		wg.Add(1)
		go func(i int, sub string) {
			defer wg.Done()
			posts, err := o.fetchSource(ctx, sub, q)
			if err != nil {
				o.logger.Warn("source fetch failed",
					zap.String("query_id", q.ID),
					zap.String("subreddit", sub),
					zap.Error(err),
				)
				o.emit(progress.Event{TS: o.clock.Now(), Stage: progress.StageFetchError, QueryID: q.ID, Subreddit: sub, Note: err.Error()})
			} else {
				o.emit(progress.Event{TS: o.clock.Now(), Stage: progress.StageFetchDone, QueryID: q.ID, Subreddit: sub, Posts: len(posts)})
			}
			results[i] = subResult{posts: posts, err: err}
		}(i, sub)
	}
	wg.Wait()

	var posts []scanner.Post
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		posts = append(posts, r.posts...)
	}
	if len(errs) == len(sources) {
		metrics.ObserveQuery("failure")
		return scanner.QueryOutcome{Err: errors.Join(errs...)}
	}

	filtered := scanner.ApplyFilters(posts, q, o.clock.Now())
	scored := o.scorePosts(filtered)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].BusinessScore > scored[j].BusinessScore
	})

	o.stats.AddPostsAnalyzed(len(scored))
	leads := 0
	for _, sp := range scored {
		if sp.BusinessScore > o.cfg.LeadThreshold {
			leads++
		}
	}
	o.stats.AddLeadsFound(leads)

	if len(errs) > 0 {
		metrics.ObserveQuery("partial")
		return scanner.QueryOutcome{Posts: scored, Err: errors.Join(errs...)}
	}
	metrics.ObserveQuery("success")
	return scanner.QueryOutcome{Posts: scored}
}

// fetchSource performs one rate-limited, account-rotated fetch under the
// global concurrency budget. Rate-limited attempts are retried on a later
// scheduling pass (with a fresh account selection) up to RetryAttempts
// times; the raw rate-limit error is never returned to the caller.
func (o *Orchestrator) fetchSource(ctx context.Context, subreddit string, q scanner.Query) ([]scanner.Post, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, scanner.NewTransportError("acquire fetch slot", err)
	}
	defer o.sem.Release(1)
	o.stats.EnterFetch()
	defer o.stats.LeaveFetch()

	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryAttempts; attempt++ {
		posts, err := o.fetchOnce(ctx, subreddit, q)
		if err == nil {
			return posts, nil
		}
		lastErr = err
		if !scanner.IsRateLimited(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, &scanner.TransportError{Op: "fetch after rate-limit retries", Err: lastErr}
}

func (o *Orchestrator) fetchOnce(ctx context.Context, subreddit string, q scanner.Query) ([]scanner.Post, error) {
	fctx := ctx
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	acct, err := o.pool.SelectBest()
	if err != nil {
		o.stats.RecordError()
		return nil, err
	}
	if err := acct.Limiter.Acquire(fctx); err != nil {
		return nil, scanner.NewTransportError("rate limit wait", err)
	}

	start := o.clock.Now()
	posts, err := o.source.Fetch(fctx, subreddit, q, acct.Token)
	if err != nil {
		if rle, ok := scanner.AsRateLimited(err); ok {
			acct.Limiter.RecordRateLimited(rle.RetryAfter)
			if rle.RetryAfter != nil {
				metrics.ObserveBackoff(*rle.RetryAfter)
			}
			metrics.ObserveRequest(acct.Username, "rate_limited")
			o.logger.Warn("rate limited by upstream",
				zap.String("username", acct.Username),
				zap.String("subreddit", subreddit),
			)
			return nil, err
		}
		if scanner.IsCancellation(err) || fctx.Err() != nil {
			return nil, scanner.NewTransportError("fetch listing", err)
		}
		o.pool.RecordError(acct)
		o.stats.RecordError()
		metrics.ObserveRequest(acct.Username, "error")
		return nil, scanner.NewTransportError("fetch listing", err)
	}

	o.pool.RecordRequest(acct)
	o.stats.RecordRequest()
	metrics.ObserveRequest(acct.Username, "ok")
	metrics.ObserveFetch(subreddit, o.clock.Now().Sub(start))
	return posts, nil
}

// scorePosts partitions posts into chunks and scores them on a bounded
// worker pool, preserving input order in the output slice.
func (o *Orchestrator) scorePosts(posts []scanner.Post) []scanner.ScoredPost {
	if len(posts) == 0 {
		return nil
	}
	workers := o.cfg.MaxConcurrentRequests
	if workers > len(posts) {
		workers = len(posts)
	}
	scored := make([]scanner.ScoredPost, len(posts))
	chunk := (len(posts) + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < len(posts); lo += chunk {
		hi := lo + chunk
		if hi > len(posts) {
			hi = len(posts)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				scored[i] = o.scorer.Score(posts[i])
			}
		}(lo, hi)
	}
	wg.Wait()
	return scored
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.progress != nil {
		o.progress.Emit(evt)
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
