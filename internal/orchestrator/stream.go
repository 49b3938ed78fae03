package orchestrator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

// Stream is a lazy, finite sequence of scored posts for a single query.
// It is not restartable; once exhausted or closed it stays that way.
type Stream struct {
	ch     chan scanner.ScoredPost
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	srcErr error
}

// Next returns the next scored post. ok is false once the stream is
// exhausted, failed, or closed; check Err afterwards.
func (s *Stream) Next() (scanner.ScoredPost, bool) {
	sp, ok := <-s.ch
	return sp, ok
}

// Err reports the terminal error, if any. Valid after Next returns false
// or after Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer and waits until every held resource, including
// any in-flight fetch slot, has been released. Safe to call more than
// once and concurrently with Next.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// SourceErr reports fetch failures from individual sources, joined in
// order. Unlike Err it is set even when other sources kept the stream
// going, so a consumer can tell a clean end from a truncated one. Valid
// after Next returns false or after Close.
func (s *Stream) SourceErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srcErr
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) addSourceErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.srcErr = errors.Join(s.srcErr, err)
}

// Stream fetches the query's sources one at a time and yields scored
// posts as the consumer pulls them. Filtering and scoring happen per
// item before the send, so a slow consumer applies backpressure all the
// way to the fetch loop.
func (o *Orchestrator) Stream(ctx context.Context, q scanner.Query) *Stream {
	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan scanner.ScoredPost),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go o.runStream(sctx, q, s)
	return s
}

func (o *Orchestrator) runStream(ctx context.Context, q scanner.Query, s *Stream) {
	defer close(s.done)
	defer close(s.ch)

	sources := q.Subreddits
	if len(sources) == 0 {
		sources = []string{""}
	}

	succeeded := 0
	for _, sub := range sources {
		posts, err := o.fetchSource(ctx, sub, q)
		if err != nil {
			if scanner.IsCancellation(err) || ctx.Err() != nil {
				s.setErr(err)
				return
			}
			s.addSourceErr(err)
			o.logger.Warn("stream source failed",
				zap.String("query_id", q.ID),
				zap.String("subreddit", sub),
				zap.Error(err),
			)
			continue
		}
		succeeded++
		for _, p := range posts {
			if !scanner.PassesFilters(p, q, o.clock.Now()) {
				continue
			}
			sp := o.scorer.Score(p)
			select {
			case s.ch <- sp:
				o.stats.AddPostsAnalyzed(1)
				if sp.BusinessScore > o.cfg.LeadThreshold {
					o.stats.AddLeadsFound(1)
				}
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
	}
	if succeeded == 0 {
		if err := s.SourceErr(); err != nil {
			s.setErr(err)
		}
	}
}
