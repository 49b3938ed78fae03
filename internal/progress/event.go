// Package progress defines the event structures emitted while a batch or
// stream is running, and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart Stage = "BATCH_START"
	StageBatchDone  Stage = "BATCH_DONE"
	StageQueryDone  Stage = "QUERY_DONE"
	StageQueryError Stage = "QUERY_ERROR"
	StageFetchDone  Stage = "FETCH_DONE"
	StageFetchError Stage = "FETCH_ERROR"
)

// Event captures a single milestone of scanner progress.
type Event struct {
	// QueryID identifies the query this event belongs to; empty for
	// batch-level events.
	QueryID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Subreddit scopes fetch events to one source.
	Subreddit string
	// Posts carries the result count for query/fetch completions.
	Posts int
	// Completed and Total describe batch progress (k of n queries done).
	Completed int
	Total     int
	// Dur captures execution latency for fetches and query completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone:
	case StageQueryDone, StageQueryError:
		if e.QueryID == "" {
			return errors.New("query events require a query id")
		}
	case StageFetchDone, StageFetchError:
		if e.QueryID == "" {
			return errors.New("fetch events require a query id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
