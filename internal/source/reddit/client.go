// Package reddit implements the content source against the Reddit JSON
// listing API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

const defaultBaseURL = "https://oauth.reddit.com"

// Config controls the API client.
type Config struct {
	// BaseURL overrides the API host, mainly for tests.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// CourtesyRPS caps this client's own request rate, independent of the
	// per-account limiters. Zero disables the cap.
	CourtesyRPS float64
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client fetches listings from the Reddit API. Safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	courtesy *rate.Limiter
	logger   *zap.Logger
}

// New builds a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	if cfg.CourtesyRPS > 0 {
		c.courtesy = rate.NewLimiter(rate.Limit(cfg.CourtesyRPS), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch runs one search or listing request. An empty subreddit searches
// site-wide. Throttling responses come back as *scanner.RateLimitedError;
// everything else non-2xx is a *scanner.TransportError.
func (c *Client) Fetch(ctx context.Context, subreddit string, query scanner.Query, cred scanner.Token) ([]scanner.Post, error) {
	if c.courtesy != nil {
		if err := c.courtesy.Wait(ctx); err != nil {
			return nil, scanner.NewTransportError("courtesy wait", err)
		}
	}

	reqURL, err := c.buildURL(subreddit, query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, scanner.NewTransportError("build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, scanner.NewTransportError("fetch listing", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &scanner.RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scanner.NewTransportError(
			fmt.Sprintf("fetch listing from %q", subreddit),
			fmt.Errorf("upstream status %d", resp.StatusCode),
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, scanner.NewTransportError("read listing body", err)
	}
	posts, err := decodeListing(body)
	if err != nil {
		return nil, scanner.NewTransportError("decode listing", err)
	}
	c.logger.Debug("listing fetched",
		zap.String("subreddit", subreddit),
		zap.Int("posts", len(posts)),
	)
	return posts, nil
}

func (c *Client) buildURL(subreddit string, q scanner.Query) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", scanner.NewTransportError("parse base url", err)
	}
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	params.Set("raw_json", "1")

	if q.Text != "" {
		if subreddit != "" {
			base.Path = "/r/" + subreddit + "/search.json"
			params.Set("restrict_sr", "1")
		} else {
			base.Path = "/search.json"
		}
		params.Set("q", q.Text)
		if q.Sort != "" {
			params.Set("sort", string(q.Sort))
		}
		if q.TimeFilter != "" {
			params.Set("t", string(q.TimeFilter))
		}
		if q.IncludeNSFW {
			params.Set("include_over_18", "on")
		}
		base.RawQuery = params.Encode()
		return base.String(), nil
	}

	// Bare listing browse. Relevance and comment sorts only exist for
	// search, so they fall back to hot.
	sortPath := "hot"
	switch q.Sort {
	case scanner.SortNew:
		sortPath = "new"
	case scanner.SortTop:
		sortPath = "top"
		if q.TimeFilter != "" {
			params.Set("t", string(q.TimeFilter))
		}
	}
	if subreddit == "" {
		base.Path = "/" + sortPath + ".json"
	} else {
		base.Path = "/r/" + subreddit + "/" + sortPath + ".json"
	}
	base.RawQuery = params.Encode()
	return base.String(), nil
}

func parseRetryAfter(value string) *time.Duration {
	if value == "" {
		return nil
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

type listingEnvelope struct {
	Data struct {
		Children []struct {
			Data listingPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type listingPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Domain      string  `json:"domain"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	IsSelf      bool    `json:"is_self"`
	Over18      bool    `json:"over_18"`
}

func decodeListing(body []byte) ([]scanner.Post, error) {
	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	posts := make([]scanner.Post, 0, len(env.Data.Children))
	for _, child := range env.Data.Children {
		lp := child.Data
		sec, frac := int64(lp.CreatedUTC), lp.CreatedUTC-float64(int64(lp.CreatedUTC))
		posts = append(posts, scanner.Post{
			ID:          lp.ID,
			Title:       lp.Title,
			Text:        lp.SelfText,
			Author:      lp.Author,
			Subreddit:   lp.Subreddit,
			Domain:      lp.Domain,
			URL:         lp.URL,
			Permalink:   lp.Permalink,
			CreatedUTC:  time.Unix(sec, int64(frac*1e9)).UTC(),
			Score:       lp.Score,
			NumComments: lp.NumComments,
			IsSelf:      lp.IsSelf,
			Over18:      lp.Over18,
		})
	}
	return posts, nil
}
