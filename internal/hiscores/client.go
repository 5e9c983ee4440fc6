package hiscores

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"rune-tracker/internal/models"
)

// DefaultBaseURL is the hiscores endpoint queried when none is configured.
const DefaultBaseURL = "https://apps.runescape.com/runemetrics"

const userAgent = "rune-tracker/1.0"

// Options configures a Client. Zero values fall back to the defaults
// used in production; RateLimit <= 0 disables client-side limiting.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	RateLimit     float64 // requests per second
}

// Client fetches current player stats from the hiscores source.
type Client struct {
	client     *resty.Client
	baseURL    string
	attempts   int
	retryDelay time.Duration
	limiter    *rate.Limiter
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", userAgent)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Client{
		client:     client,
		baseURL:    opts.BaseURL,
		attempts:   opts.RetryAttempts,
		retryDelay: opts.RetryDelay,
		limiter:    limiter,
	}
}

// FetchStats retrieves the player's current stats. A 404 returns
// ErrPlayerNotFound without retrying, a malformed payload returns a
// ParseError without retrying, and any other failure (timeout, network
// error, non-2xx status) is retried up to the attempt budget with a
// fixed delay between attempts before surfacing a FetchError.
func (c *Client) FetchStats(ctx context.Context, username string) (models.SkillRecords, error) {
	endpoint := fmt.Sprintf("%s/player/%s", c.baseURL, url.PathEscape(username))

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.client.R().SetContext(ctx).Get(endpoint)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode() == http.StatusNotFound:
			return nil, ErrPlayerNotFound
		case !resp.IsSuccess():
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode())
		default:
			return parseStats(username, resp.Body())
		}

		if attempt < c.attempts {
			if err := sleep(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, &FetchError{Username: username, Attempts: c.attempts, Err: lastErr}
}

type skillPayload struct {
	Type  *int   `json:"type"`
	Level *int   `json:"level"`
	Rank  *int64 `json:"rank"`
	Value *int64 `json:"value"`
}

// parseStats validates the response shape strictly: a non-empty JSON
// array of records carrying type, level and value, no duplicate types,
// and exactly one aggregate (type 0) record. Rank may be absent.
func parseStats(username string, body []byte) (models.SkillRecords, error) {
	var payload []skillPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ParseError{Username: username, Reason: "payload is not a JSON array of skill records", Err: err}
	}
	if len(payload) == 0 {
		return nil, &ParseError{Username: username, Reason: "empty skill array"}
	}

	stats := make(models.SkillRecords, 0, len(payload))
	seen := make(map[int]bool, len(payload))
	for i, p := range payload {
		if p.Type == nil || p.Level == nil || p.Value == nil {
			return nil, &ParseError{Username: username, Reason: fmt.Sprintf("record %d is missing required fields", i)}
		}
		if seen[*p.Type] {
			return nil, &ParseError{Username: username, Reason: fmt.Sprintf("duplicate skill type %d", *p.Type)}
		}
		seen[*p.Type] = true

		rank := int64(models.UnrankedValue)
		if p.Rank != nil {
			rank = *p.Rank
		}
		stats = append(stats, models.SkillRecord{
			Type:  *p.Type,
			Level: *p.Level,
			Rank:  rank,
			Value: *p.Value,
		})
	}
	if !seen[models.OverallType] {
		return nil, &ParseError{Username: username, Reason: "missing aggregate (type 0) record"}
	}
	return stats, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
