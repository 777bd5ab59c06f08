package tsdb

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
)

// A misbehaving server should not be able to balloon the process; the
// history endpoint only ever asks for bounded ranges.
const maxQueryResponse = 10 << 20

// QueryRange runs a PromQL range query and returns the Prometheus API
// response body untouched, so the HTTP layer can relay it straight to
// dashboard clients.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (json.RawMessage, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if err := checkRange(query, start, end, step); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", unixSeconds(start))
	params.Set("end", unixSeconds(end))
	params.Set("step", stepSeconds(step))

	return c.runQuery(ctx, "/api/v1/query_range", params)
}

// checkRange rejects requests the server would answer with a cryptic 400,
// so callers get a usable message instead.
func checkRange(query string, start, end time.Time, step time.Duration) error {
	switch {
	case strings.TrimSpace(query) == "":
		return fmt.Errorf("empty PromQL expression")
	case step <= 0:
		return fmt.Errorf("non-positive step %v", step)
	case end.Before(start):
		return fmt.Errorf("range ends (%v) before it starts (%v)", end, start)
	}
	return nil
}

func (c *Client) runQuery(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := c.url + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building query request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxQueryResponse))
	if err != nil {
		return nil, fmt.Errorf("reading query response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query returned HTTP %d", resp.StatusCode)
	}

	return json.RawMessage(body), nil
}

// unixSeconds renders a timestamp the way the Prometheus API expects:
// seconds since epoch, fractional part preserved.
func unixSeconds(t time.Time) string {
	secs := float64(t.UnixNano()) / float64(time.Second)
	return strconv.FormatFloat(secs, 'f', -1, 64)
}

func stepSeconds(step time.Duration) string {
	return strconv.FormatFloat(step.Seconds(), 'f', -1, 64)
}
