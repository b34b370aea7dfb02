// Package goc talks to the external knowledge-graph store (threads,
// context sets, resources, edges) and maintains the workspace↔store
// mapping used by jobs and the agent registry.
package goc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EdgeTypeNextPart chains successive appends of one logical document.
const EdgeTypeNextPart = "NEXT_PART"

// Thread is a named container of resources in the store.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ContextSet is a named selector over a thread.
type ContextSet struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Name     string `json:"name"`
}

// Resource is one append-only document node.
type Resource struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	Summary      string         `json:"summary,omitempty"`
	TextMode     string         `json:"text_mode,omitempty"`
	RawText      string         `json:"raw_text,omitempty"`
	Kind         string         `json:"resource_kind,omitempty"`
	URI          string         `json:"uri,omitempty"`
	ContextSetID string         `json:"context_set_id,omitempty"`
	AutoActivate bool           `json:"auto_activate,omitempty"`
	AttachTo     string         `json:"attach_to,omitempty"`
	Payload      map[string]any `json:"payload_json,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
}

// Edge is a typed directed link between two nodes.
type Edge struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Type   string `json:"type"`
}

// CompiledContext is the materialized text projection of a context set.
type CompiledContext struct {
	Text          string         `json:"compiled_text"`
	Explain       map[string]any `json:"explain,omitempty"`
	ActiveNodeIDs []string       `json:"active_node_ids,omitempty"`
}

// UIToken is a short-lived token for constructing store UI links.
type UIToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"exp"`
}

// RemoteError is a non-2xx or malformed response from the store.
// Fatal marks misconfigurations (HTML body, missing token) that no
// alternate endpoint can fix.
type RemoteError struct {
	Op     string
	Status int
	Body   string
	Fatal  bool
}

func (e *RemoteError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("goc %s: status %d: %s", e.Op, e.Status, body)
}

// IsFatal reports whether err is a fatal (non-retryable, misconfiguration)
// remote error.
func IsFatal(err error) bool {
	re, ok := err.(*RemoteError)
	return ok && re.Fatal
}

// retryableStatus marks "API surface variant mismatch, try next descriptor".
var retryableStatus = map[int]bool{
	400: true, 404: true, 405: true, 415: true, 422: true, 501: true,
}

// looksLikeHTML detects an HTML document body, which for compiled-context
// reads means the base URL points at a web page, not the API.
func looksLikeHTML(body []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(body)))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html")
}

// flexTime accepts RFC3339 strings and unix seconds/milliseconds.
func flexTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	case float64:
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC()
		}
		return time.Unix(int64(t), 0).UTC()
	case json.Number:
		if n, err := t.Int64(); err == nil {
			if n > 1e12 {
				return time.UnixMilli(n).UTC()
			}
			return time.Unix(n, 0).UTC()
		}
	}
	return time.Time{}
}
