// Package export serializes scored posts to JSON or CSV and writes them
// through a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

// CSV cells holding post text are clipped to keep spreadsheet rows usable.
const maxCSVTextLen = 500

// Option customizes an Exporter.
type Option func(*Exporter)

// WithClock replaces the wall clock used for object names.
func WithClock(clock scanner.Clock) Option {
	return func(e *Exporter) { e.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

// Exporter writes query results as artifacts under a common prefix.
type Exporter struct {
	store  scanner.BlobStore
	prefix string
	clock  scanner.Clock
	logger *zap.Logger
}

// New builds an Exporter over the given blob store.
func New(store scanner.BlobStore, prefix string, opts ...Option) *Exporter {
	e := &Exporter{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type jsonExport struct {
	QueryID    string               `json:"query_id"`
	ExportedAt time.Time            `json:"exported_at"`
	Count      int                  `json:"count"`
	Posts      []jsonPost           `json:"posts"`
}

type jsonPost struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Text              string    `json:"text,omitempty"`
	Author            string    `json:"author"`
	Subreddit         string    `json:"subreddit"`
	URL               string    `json:"url"`
	Permalink         string    `json:"permalink"`
	CreatedUTC        time.Time `json:"created_utc"`
	Score             int       `json:"score"`
	NumComments       int       `json:"num_comments"`
	BusinessScore     float64   `json:"business_score"`
	Urgency           string    `json:"urgency_level"`
	ProblemIndicators []string  `json:"problem_indicators,omitempty"`
}

// ExportJSON writes the posts as a single JSON document and returns the
// stored object's URI.
func (e *Exporter) ExportJSON(ctx context.Context, queryID string, posts []scanner.ScoredPost) (string, error) {
	doc := jsonExport{
		QueryID:    queryID,
		ExportedAt: e.clock.Now().UTC(),
		Count:      len(posts),
		Posts:      make([]jsonPost, 0, len(posts)),
	}
	for _, sp := range posts {
		doc.Posts = append(doc.Posts, jsonPost{
			ID:                sp.ID,
			Title:             sp.Title,
			Text:              sp.Text,
			Author:            sp.Author,
			Subreddit:         sp.Subreddit,
			URL:               sp.URL,
			Permalink:         sp.Permalink,
			CreatedUTC:        sp.CreatedUTC,
			Score:             sp.Score,
			NumComments:       sp.NumComments,
			BusinessScore:     sp.BusinessScore,
			Urgency:           sp.Urgency,
			ProblemIndicators: sp.ProblemIndicators,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}

	path := e.objectPath(queryID, "json")
	uri, err := e.store.PutObject(ctx, path, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store json export: %w", err)
	}
	e.logger.Info("results exported", zap.String("query_id", queryID), zap.String("uri", uri), zap.Int("posts", len(posts)))
	return uri, nil
}

var csvHeader = []string{
	"id", "title", "text", "author", "subreddit", "url",
	"created_utc", "score", "num_comments", "business_score", "urgency_level",
}

// ExportCSV writes the posts as a CSV table and returns the stored
// object's URI.
func (e *Exporter) ExportCSV(ctx context.Context, queryID string, posts []scanner.ScoredPost) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, sp := range posts {
		row := []string{
			sp.ID,
			sp.Title,
			clip(sp.Text, maxCSVTextLen),
			sp.Author,
			sp.Subreddit,
			sp.URL,
			sp.CreatedUTC.UTC().Format(time.RFC3339),
			strconv.Itoa(sp.Score),
			strconv.Itoa(sp.NumComments),
			strconv.FormatFloat(sp.BusinessScore, 'f', 2, 64),
			sp.Urgency,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	path := e.objectPath(queryID, "csv")
	uri, err := e.store.PutObject(ctx, path, "text/csv", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", fmt.Errorf("store csv export: %w", err)
	}
	e.logger.Info("results exported", zap.String("query_id", queryID), zap.String("uri", uri), zap.Int("posts", len(posts)))
	return uri, nil
}

func (e *Exporter) objectPath(queryID, ext string) string {
	stamp := e.clock.Now().UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("%s_%s.%s", queryID, stamp, ext)
	if e.prefix == "" {
		return name
	}
	return e.prefix + "/" + name
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	clipped := s[:limit]
	// Do not cut a multibyte rune in half.
	for len(clipped) > 0 && !utf8.ValidString(clipped) {
		clipped = clipped[:len(clipped)-1]
	}
	return clipped
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
