package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

type searchRequest struct {
	Queries []queryRequest `json:"queries"`
}

type queryRequest struct {
	Text         string   `json:"text"`
	Subreddits   []string `json:"subreddits"`
	Sort         string   `json:"sort"`
	TimeFilter   string   `json:"time_filter"`
	Limit        *int     `json:"limit"`
	IncludeNSFW  bool     `json:"include_nsfw"`
	MinScore     int      `json:"min_score"`
	MaxAgeDays   int      `json:"max_age_days"`
	AuthorFilter string   `json:"author_filter"`
	DomainFilter string   `json:"domain_filter"`
}

type searchResponse struct {
	Results []queryResult `json:"results"`
}

type queryResult struct {
	QueryID string       `json:"query_id"`
	Text    string       `json:"text"`
	Status  string       `json:"status"`
	Error   string       `json:"error,omitempty"`
	Posts   []postResult `json:"posts"`
}

type postResult struct {
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

var validSorts = map[string]scanner.SortMode{
	"":                             "",
	string(scanner.SortRelevance): scanner.SortRelevance,
	string(scanner.SortHot):       scanner.SortHot,
	string(scanner.SortNew):       scanner.SortNew,
	string(scanner.SortTop):       scanner.SortTop,
	string(scanner.SortComments):  scanner.SortComments,
}

var validTimeFilters = map[string]scanner.TimeFilter{
	"":                        "",
	string(scanner.TimeAll):   scanner.TimeAll,
	string(scanner.TimeYear):  scanner.TimeYear,
	string(scanner.TimeMonth): scanner.TimeMonth,
	string(scanner.TimeWeek):  scanner.TimeWeek,
	string(scanner.TimeDay):   scanner.TimeDay,
	string(scanner.TimeHour):  scanner.TimeHour,
}

func (s *Server) runSearches(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, "at least one query is required")
		return
	}

	queries := make([]scanner.Query, 0, len(req.Queries))
	texts := make(map[string]string, len(req.Queries))
	for _, qr := range req.Queries {
		q, err := s.toQuery(qr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		queries = append(queries, q)
		texts[q.ID] = q.Text
	}

	outcome := s.orch.FetchBatch(r.Context(), queries)
	if s.recorder != nil {
		s.recorder.Record(r.Context(), outcome)
	}

	resp := searchResponse{Results: make([]queryResult, 0, len(queries))}
	for _, q := range queries {
		qo := outcome[q.ID]
		result := queryResult{
			QueryID: q.ID,
			Text:    texts[q.ID],
			Status:  outcomeStatus(qo),
			Posts:   toPostResults(qo.Posts),
		}
		if qo.Err != nil {
			result.Error = qo.Err.Error()
		}
		resp.Results = append(resp.Results, result)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) streamSearch(w http.ResponseWriter, r *http.Request) {
	q, err := s.toQuery(queryRequest{
		Text:        r.URL.Query().Get("q"),
		Subreddits:  splitList(r.URL.Query().Get("subreddits")),
		Sort:        r.URL.Query().Get("sort"),
		TimeFilter:  r.URL.Query().Get("t"),
		Limit:       intParam(r, "limit"),
		IncludeNSFW: r.URL.Query().Get("include_nsfw") == "true",
		MinScore:    intParamValue(r, "min_score"),
		MaxAgeDays:  intParamValue(r, "max_age_days"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := s.orch.Stream(r.Context(), q)
	defer stream.Close()

	enc := json.NewEncoder(w)
	for {
		sp, ok := stream.Next()
		if !ok {
			break
		}
		if err := enc.Encode(toPostResult(sp)); err != nil {
			// Client went away; Close tears the fetch down.
			return
		}
		flusher.Flush()
	}
	if err := stream.Err(); err != nil && !scanner.IsCancellation(err) {
		s.logger.Warn("stream ended with error", zap.String("query_id", q.ID), zap.Error(err))
	} else if err := stream.SourceErr(); err != nil {
		s.logger.Warn("stream completed with failed sources", zap.String("query_id", q.ID), zap.Error(err))
	}
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot(s.pool.Stats()))
}

type accountRequest struct {
	Username string `json:"username"`
}

func (s *Server) addAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if err := s.pool.AddAccount(r.Context(), req.Username); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scanner.ErrTokenNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (s *Server) removeAccount(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	s.pool.RemoveAccount(username)
	writeJSON(w, http.StatusOK, map[string]string{"username": username, "status": "removed"})
}

func (s *Server) toQuery(qr queryRequest) (scanner.Query, error) {
	if strings.TrimSpace(qr.Text) == "" {
		return scanner.Query{}, errors.New("query text is required")
	}
	sort, ok := validSorts[qr.Sort]
	if !ok {
		return scanner.Query{}, fmt.Errorf("unknown sort %q", qr.Sort)
	}
	timeFilter, ok := validTimeFilters[qr.TimeFilter]
	if !ok {
		return scanner.Query{}, fmt.Errorf("unknown time filter %q", qr.TimeFilter)
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return scanner.Query{}, fmt.Errorf("generate query id: %w", err)
	}

	q := scanner.Query{
		ID:           id,
		Text:         strings.TrimSpace(qr.Text),
		Subreddits:   qr.Subreddits,
		Sort:         sort,
		TimeFilter:   timeFilter,
		IncludeNSFW:  qr.IncludeNSFW,
		MinScore:     qr.MinScore,
		MaxAgeDays:   qr.MaxAgeDays,
		AuthorFilter: qr.AuthorFilter,
		DomainFilter: qr.DomainFilter,
	}
	if len(q.Subreddits) == 0 {
		q.Subreddits = append([]string(nil), s.cfg.Search.DefaultSubreddits...)
	}
	if q.Sort == "" {
		q.Sort = scanner.SortMode(s.cfg.Search.DefaultSort)
	}
	if q.TimeFilter == "" {
		q.TimeFilter = scanner.TimeFilter(s.cfg.Search.DefaultTimeFilter)
	}
	if qr.Limit != nil && *qr.Limit > 0 {
		q.Limit = *qr.Limit
	} else {
		q.Limit = s.cfg.Search.DefaultLimit
	}
	return q, nil
}

func outcomeStatus(qo scanner.QueryOutcome) string {
	switch {
	case qo.Err == nil:
		return "success"
	case qo.Partial():
		return "partial"
	default:
		return "failure"
	}
}

func toPostResults(posts []scanner.ScoredPost) []postResult {
	out := make([]postResult, 0, len(posts))
	for _, sp := range posts {
		out = append(out, toPostResult(sp))
	}
	return out
}

func toPostResult(sp scanner.ScoredPost) postResult {
	return postResult{
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
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(r *http.Request, name string) *int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &n
}

func intParamValue(r *http.Request, name string) int {
	if p := intParam(r, name); p != nil {
		return *p
	}
	return 0
}
