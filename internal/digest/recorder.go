// Package digest records completed query outcomes: persisting results,
// exporting artifacts, and publishing lead notifications. Every step is
// best-effort so a broken backend never fails a scan.
package digest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/export"
	"github.com/bizradar/reddit-scanner/internal/scanner"
)

// LeadEvent is the payload published for each batch of qualifying leads.
type LeadEvent struct {
	QueryID    string    `json:"query_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Leads      int       `json:"leads"`
	TopScore   float64   `json:"top_score"`
	ExportURI  string    `json:"export_uri,omitempty"`
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithResultStore enables result persistence.
func WithResultStore(store scanner.ResultStore) Option {
	return func(r *Recorder) { r.results = store }
}

// WithExporter enables artifact export.
func WithExporter(exporter *export.Exporter) Option {
	return func(r *Recorder) { r.exporter = exporter }
}

// WithPublisher enables lead notifications on the given topic.
func WithPublisher(pub scanner.Publisher, topic string) Option {
	return func(r *Recorder) {
		r.publisher = pub
		r.topic = topic
	}
}

// WithClock replaces the wall clock.
func WithClock(clock scanner.Clock) Option {
	return func(r *Recorder) { r.clock = clock }
}

// WithLeadThreshold overrides the score above which a post counts as a
// lead.
func WithLeadThreshold(threshold float64) Option {
	return func(r *Recorder) { r.leadThreshold = threshold }
}

// Recorder fans a finished query outcome out to the configured backends.
// Backends left unset are skipped.
type Recorder struct {
	results       scanner.ResultStore
	exporter      *export.Exporter
	publisher     scanner.Publisher
	topic         string
	leadThreshold float64
	clock         scanner.Clock
	logger        *zap.Logger
}

// New builds a Recorder. With no options it is a no-op.
func New(logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		leadThreshold: 1.0,
		clock:         systemClock{},
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record processes one completed batch. Failed queries are skipped;
// partial results are recorded.
func (r *Recorder) Record(ctx context.Context, outcome scanner.BatchOutcome) {
	for queryID, qo := range outcome {
		if len(qo.Posts) == 0 {
			continue
		}
		r.recordQuery(ctx, queryID, qo.Posts)
	}
}

func (r *Recorder) recordQuery(ctx context.Context, queryID string, posts []scanner.ScoredPost) {
	if r.results != nil {
		if err := r.results.StoreResults(ctx, queryID, posts); err != nil {
			r.logger.Warn("store results failed", zap.String("query_id", queryID), zap.Error(err))
		}
	}

	var exportURI string
	if r.exporter != nil {
		uri, err := r.exporter.ExportJSON(ctx, queryID, posts)
		if err != nil {
			r.logger.Warn("export failed", zap.String("query_id", queryID), zap.Error(err))
		} else {
			exportURI = uri
		}
	}

	if r.publisher != nil {
		leads := 0
		topScore := 0.0
		for _, sp := range posts {
			if sp.BusinessScore > r.leadThreshold {
				leads++
			}
			if sp.BusinessScore > topScore {
				topScore = sp.BusinessScore
			}
		}
		if leads > 0 {
			event := LeadEvent{
				QueryID:    queryID,
				RecordedAt: r.clock.Now().UTC(),
				Leads:      leads,
				TopScore:   topScore,
				ExportURI:  exportURI,
			}
			id, err := r.publisher.Publish(ctx, r.topic, event)
			if err != nil {
				r.logger.Warn("publish leads failed", zap.String("query_id", queryID), zap.Error(err))
			} else {
				r.logger.Info("leads published",
					zap.String("query_id", queryID),
					zap.String("message_id", id),
					zap.Int("leads", leads),
				)
			}
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
