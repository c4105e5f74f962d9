// Package api is the HTTP client for the Magic Lamp service-request backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/magiclamp/lampdesk/internal/model"
)

const maxBodyBytes = 10 * 1024 * 1024

type Options struct {
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Transport  http.RoundTripper
}

type Client struct {
	base         *url.URL
	requestsPath string
	httpClient   *http.Client
	limiter      *rate.Limiter
	tokens       TokenSource
}

func NewClient(baseURL, requestsPath string, tokens TokenSource, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute, got %q", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if tokens == nil {
		tokens = StaticToken("")
	}

	return &Client{
		base:         base,
		requestsPath: "/" + strings.Trim(requestsPath, "/"),
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		tokens:  tokens,
	}, nil
}

// NewClientFromConfig builds a client from the api section of config.yaml.
func NewClientFromConfig(cfg model.APIConfig, tokens TokenSource) (*Client, error) {
	return NewClient(cfg.BaseURL, cfg.RequestsPath, tokens, Options{
		Timeout:    cfg.Timeout(),
		RatePerSec: cfg.RatePerSec,
		Burst:      cfg.Burst,
	})
}

func (c *Client) collectionURL() *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + c.requestsPath
	return &u
}

// pageURL resolves a cursor into the URL to fetch. An absolute cursor is used
// verbatim, a path is resolved against the base URL, anything else is sent
// as the cursor query parameter.
func (c *Client) pageURL(cursor string) (string, error) {
	if cursor == "" {
		return c.collectionURL().String(), nil
	}
	if strings.HasPrefix(cursor, "http://") || strings.HasPrefix(cursor, "https://") {
		u, err := url.Parse(cursor)
		if err != nil {
			return "", fmt.Errorf("parse cursor: %w", err)
		}
		if u.Host != c.base.Host {
			return "", fmt.Errorf("cursor host %q does not match backend host %q", u.Host, c.base.Host)
		}
		return cursor, nil
	}
	if strings.HasPrefix(cursor, "/") {
		ref, err := url.Parse(cursor)
		if err != nil {
			return "", fmt.Errorf("parse cursor: %w", err)
		}
		return c.base.ResolveReference(ref).String(), nil
	}
	u := c.collectionURL()
	u.RawQuery = url.Values{"cursor": {cursor}}.Encode()
	return u.String(), nil
}

// ListRequests fetches one page. An empty cursor means the first page.
func (c *Client) ListRequests(ctx context.Context, cursor string) (*model.RequestPage, error) {
	endpoint, err := c.pageURL(cursor)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return decodePage(body)
}

type statusUpdate struct {
	Status model.RequestStatus `json:"status"`
}

// UpdateStatus sends the new status for one request.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status model.RequestStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", model.ErrUnknownStatus, status)
	}
	u := c.collectionURL()
	u.Path += "/" + strconv.FormatInt(id, 10)

	payload, err := json.Marshal(statusUpdate{Status: status})
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	_, err = c.do(ctx, http.MethodPatch, u.String(), payload)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
		}
	}
	return body, nil
}

func errorMessage(code int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return http.StatusText(code)
}

type pageEnvelope struct {
	Items           *[]model.ServiceRequest `json:"items"`
	TotalCount      *int                    `json:"totalCount"`
	NextCursor      *string                 `json:"nextCursor"`
	PreviousCursor  *string                 `json:"previousCursor"`
	AggregateCounts map[string]int          `json:"aggregateCounts"`
}

// decodePage enforces the one listing contract the backend must satisfy.
func decodePage(body []byte) (*model.RequestPage, error) {
	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, schemaErrorf("decode page: %v", err)
	}
	if env.Items == nil {
		return nil, schemaErrorf("missing items")
	}
	if env.TotalCount == nil {
		return nil, schemaErrorf("missing totalCount")
	}
	if *env.TotalCount < 0 {
		return nil, schemaErrorf("negative totalCount %d", *env.TotalCount)
	}

	seen := make(map[int64]bool, len(*env.Items))
	for i, item := range *env.Items {
		if !item.Status.Valid() {
			return nil, schemaErrorf("items[%d]: unknown status %q", i, item.Status)
		}
		if seen[item.ID] {
			return nil, schemaErrorf("items[%d]: duplicate id %d", i, item.ID)
		}
		seen[item.ID] = true
	}

	page := &model.RequestPage{
		Items:      *env.Items,
		TotalCount: *env.TotalCount,
	}
	if env.NextCursor != nil {
		page.NextCursor = *env.NextCursor
	}
	if env.PreviousCursor != nil {
		page.PreviousCursor = *env.PreviousCursor
	}
	if env.AggregateCounts != nil {
		page.AggregateCounts = make(model.StatusCounts, len(env.AggregateCounts))
		for k, v := range env.AggregateCounts {
			st := model.RequestStatus(k)
			if !st.Valid() {
				return nil, schemaErrorf("aggregateCounts: unknown status %q", k)
			}
			if v < 0 {
				return nil, schemaErrorf("aggregateCounts[%s]: negative count %d", k, v)
			}
			page.AggregateCounts[st] = v
		}
	}
	return page, nil
}
