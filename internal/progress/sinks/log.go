// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/progress"
)

// Log writes progress events to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog builds a logging sink.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Consume logs each event at debug, except errors which log at warn.
func (s *Log) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.String("query_id", evt.QueryID),
			zap.String("subreddit", evt.Subreddit),
			zap.Int("posts", evt.Posts),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Total > 0 {
			fields = append(fields, zap.Int("completed", evt.Completed), zap.Int("total", evt.Total))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageQueryError, progress.StageFetchError:
			s.logger.Warn("scan progress", fields...)
		default:
			s.logger.Debug("scan progress", fields...)
		}
	}
	return nil
}

// Close is a no-op for the log sink.
func (s *Log) Close(_ context.Context) error { return nil }
