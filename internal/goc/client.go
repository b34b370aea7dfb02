package goc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a thin, retry-capable HTTP client for the knowledge store.
// Each logical operation is an ordered list of attempt descriptors; the
// client walks them until one succeeds or a non-retryable status stops it.
type Client struct {
	base  string
	key   string
	http  *http.Client
	debug bool
}

// NewClient builds a client for the given API base and service key.
func NewClient(base, key string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		key:  key,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetDebug enables per-attempt debug logging.
func (c *Client) SetDebug(on bool) { c.debug = on }

// attempt is one (path, query, body) shape to try for an operation.
type attempt struct {
	method string
	path   string
	query  url.Values
	body   any
}

// tryAttempts walks the descriptor list in order. Retryable statuses
// ({400,404,405,415,422,501}) mean "surface variant mismatch, try next";
// anything else non-2xx stops the walk.
func (c *Client) tryAttempts(ctx context.Context, op string, attempts []attempt) ([]byte, error) {
	var last *RemoteError
	for _, att := range attempts {
		body, status, err := c.do(ctx, att)
		if err != nil {
			return nil, fmt.Errorf("goc %s: %w", op, err)
		}
		if status >= 200 && status < 300 {
			return body, nil
		}
		last = &RemoteError{Op: op, Status: status, Body: string(body)}
		if !retryableStatus[status] {
			return nil, last
		}
		if c.debug {
			slog.Debug("goc attempt failed, trying next shape",
				"op", op, "path", att.path, "status", status)
		}
	}
	if last == nil {
		last = &RemoteError{Op: op, Status: 0, Body: "no attempts configured", Fatal: true}
	}
	return nil, last
}

func (c *Client) do(ctx context.Context, att attempt) ([]byte, int, error) {
	u := c.base + att.path
	if len(att.query) > 0 {
		u += "?" + att.query.Encode()
	}

	var rdr io.Reader
	if att.body != nil {
		data, err := json.Marshal(att.body)
		if err != nil {
			return nil, 0, err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, att.method, u, rdr)
	if err != nil {
		return nil, 0, err
	}
	if att.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "ServiceKey "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
