// Package desk implements the HTTP client for the remote support desk API.
//
// The desk exposes per-agent availability, a paged agent directory, and
// per-view ticket counts. This package owns the wire formats, the enum
// parsing, and the error taxonomy; scheduling and retry cadence across
// polling cycles belong to the monitor, not here. The one retry this
// package performs itself is per-page retry inside directory listings,
// where giving up halfway would discard the pages already fetched.
package desk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when checking many agents
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second // conservative: matches common ALB defaults
)

const (
	// DefaultTimeout bounds each individual API request.
	DefaultTimeout = 15 * time.Second

	// rosterPageSize is the page size requested when listing the directory.
	rosterPageSize = 100

	// maxPageRetries bounds retries of a single directory page before the
	// whole listing is abandoned.
	maxPageRetries = 3
)

// Client is an HTTP client for the desk API.
//
// Client applies per-request timeouts via context rather than a global
// client timeout, so a stalled availability check cannot hold up an
// unrelated ticket count. Response bodies are limited to 1MB.
type Client struct {
	baseURL    string
	email      string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a desk API [Client].
//
// baseURL is the scheme and host of the desk, e.g. "https://acme.example.com";
// a trailing slash is tolerated. email and token are sent as HTTP basic
// auth on every request. timeout bounds each request; zero selects
// [DefaultTimeout].
//
// The client is configured with connection pooling limits to prevent
// resource exhaustion when checking many agents concurrently.
func NewClient(baseURL, email, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: trimTrailingSlash(baseURL),
		email:   email,
		token:   token,
		timeout: timeout,
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false, // explicitly enable connection reuse
			},
		},
	}
}

// Presence fetches the availability of a single agent.
//
// Unrecognized state or call status values decode to [PresenceUnknown] and
// [CallUnknown] rather than failing: a desk rollout that introduces a new
// state must not blind the monitor to the agents it can still read.
func (c *Client) Presence(ctx context.Context, agentID int64) (PresenceInfo, error) {
	var body struct {
		Availability struct {
			State      string `json:"state"`
			CallStatus string `json:"call_status"`
		} `json:"availability"`
	}
	path := fmt.Sprintf("/api/v2/agents/%d/availability", agentID)
	if err := c.get(ctx, "presence", path, &body); err != nil {
		return PresenceInfo{}, err
	}
	return PresenceInfo{
		Presence:   ParsePresenceState(body.Availability.State),
		CallStatus: ParseCallStatus(body.Availability.CallStatus),
	}, nil
}

// rosterPage is one page of the paged agent directory.
type rosterPage struct {
	Agents []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"agents"`
	Meta pageMeta `json:"meta"`
}

// pageMeta is the cursor pagination envelope shared by list endpoints.
type pageMeta struct {
	HasMore     bool   `json:"has_more"`
	AfterCursor string `json:"after_cursor"`
}

// ListAgents fetches the full agent directory, following cursor pagination
// until the desk reports no more pages.
//
// Each page is retried up to maxPageRetries times on transient or
// rate-limited errors before the listing is abandoned; permanent errors
// (bad credentials, malformed responses) abort immediately. An error on
// any page fails the whole listing: callers cache the previous roster and
// a partial directory would silently shrink it.
func (c *Client) ListAgents(ctx context.Context) ([]RosterAgent, error) {
	var agents []RosterAgent
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page[size]", strconv.Itoa(rosterPageSize))
		if cursor != "" {
			q.Set("page[after]", cursor)
		}
		path := "/api/v2/agents?" + q.Encode()

		page, err := fetchPage[rosterPage](ctx, c, "list agents", path)
		if err != nil {
			return nil, err
		}
		for _, a := range page.Agents {
			agents = append(agents, RosterAgent{ID: a.ID, Name: a.Name})
		}
		if !page.Meta.HasMore || page.Meta.AfterCursor == "" {
			return agents, nil
		}
		cursor = page.Meta.AfterCursor
	}
}

// ViewTicketTotal fetches the number of tickets currently in a view.
func (c *Client) ViewTicketTotal(ctx context.Context, viewID int64) (int64, error) {
	var body struct {
		Count int64 `json:"count"`
	}
	path := fmt.Sprintf("/api/v2/views/%d/count", viewID)
	if err := c.get(ctx, "view count", path, &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// ticketPage is one page of a view's ticket listing.
type ticketPage struct {
	Tickets []struct {
		ID         int64  `json:"id"`
		AssigneeID *int64 `json:"assignee_id"`
	} `json:"tickets"`
	Meta pageMeta `json:"meta"`
}

// ViewTicketsByAgent fetches a view's tickets and aggregates them per
// assignee. Tickets with a null or zero assignee are counted under key 0,
// the unassigned bucket. Pagination and retry behave as in [Client.ListAgents].
func (c *Client) ViewTicketsByAgent(ctx context.Context, viewID int64) (map[int64]int64, error) {
	counts := make(map[int64]int64)
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page[size]", strconv.Itoa(rosterPageSize))
		if cursor != "" {
			q.Set("page[after]", cursor)
		}
		path := fmt.Sprintf("/api/v2/views/%d/tickets?%s", viewID, q.Encode())

		page, err := fetchPage[ticketPage](ctx, c, "view tickets", path)
		if err != nil {
			return nil, err
		}
		for _, t := range page.Tickets {
			var assignee int64
			if t.AssigneeID != nil {
				assignee = *t.AssigneeID
			}
			counts[assignee]++
		}
		if !page.Meta.HasMore || page.Meta.AfterCursor == "" {
			return counts, nil
		}
		cursor = page.Meta.AfterCursor
	}
}

// fetchPage fetches one page of a listing, retrying transient and
// rate-limited failures with exponential backoff.
func fetchPage[T any](ctx context.Context, c *Client, op, path string) (T, error) {
	operation := func() (T, error) {
		var page T
		if err := c.get(ctx, op, path, &page); err != nil {
			if retryablePage(err) {
				return page, err
			}
			return page, backoff.Permanent(err)
		}
		return page, nil
	}
	return backoff.RetryWithData(operation, c.pageBackoff(ctx))
}

// retryablePage reports whether a page fetch error is worth retrying in
// place. Auth and parse errors will not improve on retry.
func retryablePage(err error) bool {
	if IsTransient(err) {
		return true
	}
	_, limited := IsRateLimited(err)
	return limited
}

// pageBackoff builds the retry policy for a single page fetch: exponential
// backoff starting at 200ms, capped at maxPageRetries attempts, abandoned
// when ctx is done.
func (c *Client) pageBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // bounded by retry count and ctx, not wall clock
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxPageRetries), ctx)
}

// get performs one GET against the desk and decodes the JSON response into
// out, mapping failure modes onto the package error taxonomy.
func (c *Client) get(ctx context.Context, op, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("desk: %s: failed to create request: %w", op, err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "deskpulse")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// caller cancellation is not remote flakiness; report it as itself
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return fmt.Errorf("desk: %s: %w", op, ctx.Err())
		}
		return &TransientError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	// read body with size limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// decoded below
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{Op: op, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &TransientError{Op: op, StatusCode: resp.StatusCode}
	default:
		return fmt.Errorf("desk: %s: unexpected status %d", op, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ParseError{Op: op, Err: err}
	}
	return nil
}

// parseRetryAfter interprets a Retry-After header as delay seconds.
// HTTP-date form and garbage both yield zero; the hint is advisory.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
