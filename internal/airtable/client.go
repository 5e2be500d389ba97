package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.airtable.com/v0"

	// defaultPageSize is the source's standard full-page size. It is used
	// only as a diagnostic: termination is driven by cursor presence.
	defaultPageSize = 100

	// defaultRequestsPerSecond matches the source's published rate limit.
	defaultRequestsPerSecond = 5

	defaultRequestTimeout = 30 * time.Second
)

// Config holds Airtable client configuration.
type Config struct {
	APIToken          string
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond int
}

// Client talks to the Airtable REST API with a bearer token. All calls are
// rate limited client-side and bounded by the configured request timeout.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a new Airtable client.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		token:   cfg.APIToken,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		logger:  logger,
	}
}

// ListRecordsPage fetches a single page of records. The returned offset is
// the continuation cursor for the next page; an empty offset means the
// listing is complete.
func (c *Client) ListRecordsPage(ctx context.Context, loc Locator, opts ListOptions, offset string) ([]Record, string, error) {
	query := url.Values{}
	if loc.View != "" {
		query.Set("view", loc.View)
	}
	for _, f := range opts.Fields {
		query.Add("fields[]", f)
	}
	if offset != "" {
		query.Set("offset", offset)
	}

	uri := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, loc.Base, loc.Table, query.Encode())

	var page listRecordsResponse
	if err := c.getJSON(ctx, uri, &page); err != nil {
		return nil, "", fmt.Errorf("failed to list records page: %w", err)
	}

	return page.Records, page.Offset, nil
}

// ListAllRecords fetches every page of the record set, following the
// continuation cursor until the source stops returning one. Records are
// accumulated in arrival order. Any transport or decode failure aborts
// the whole fetch; no partial result is returned.
func (c *Client) ListAllRecords(ctx context.Context, loc Locator, opts ListOptions) ([]Record, error) {
	var (
		records []Record
		offset  string
		pages   int
	)

	for {
		page, next, err := c.ListRecordsPage(ctx, loc, opts, offset)
		if err != nil {
			return nil, err
		}

		records = append(records, page...)
		pages++

		if next == "" {
			break
		}

		// A short page that still carries a cursor is legal but unusual;
		// worth a trace when debugging source behavior.
		if len(page) < defaultPageSize {
			c.logger.Debug("Short page with continuation cursor",
				slog.Int("page_size", len(page)),
				slog.Int("page_number", pages),
			)
		}

		offset = next
	}

	c.logger.Info("Fetched all records",
		slog.String("base", loc.Base),
		slog.String("table", loc.Table),
		slog.Int("records", len(records)),
		slog.Int("pages", pages),
	)

	return records, nil
}

// ListBases returns every base visible to the configured token, following
// pagination the same way record listings do.
func (c *Client) ListBases(ctx context.Context) (*Bases, error) {
	var (
		all    Bases
		offset string
	)

	for {
		uri := c.baseURL + "/meta/bases"
		if offset != "" {
			uri += "?offset=" + url.QueryEscape(offset)
		}

		var page Bases
		if err := c.getJSON(ctx, uri, &page); err != nil {
			return nil, fmt.Errorf("failed to list bases: %w", err)
		}

		all.Bases = append(all.Bases, page.Bases...)
		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	return &all, nil
}

// FetchSchema returns the table layout of a base.
func (c *Client) FetchSchema(ctx context.Context, baseID string) (*Schema, error) {
	uri := fmt.Sprintf("%s/meta/bases/%s/tables", c.baseURL, baseID)

	var schema Schema
	if err := c.getJSON(ctx, uri, &schema); err != nil {
		return nil, fmt.Errorf("failed to fetch base schema: %w", err)
	}

	return &schema, nil
}

// getJSON performs a rate-limited authenticated GET and decodes the body.
func (c *Client) getJSON(ctx context.Context, uri string, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, string(body))
	}

	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
