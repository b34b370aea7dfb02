package goc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// CreateThread creates a thread with the given title.
func (c *Client) CreateThread(ctx context.Context, title string) (Thread, error) {
	body, err := c.tryAttempts(ctx, "createThread", []attempt{
		{method: "POST", path: "/api/threads", body: map[string]string{"title": title}},
		{method: "POST", path: "/threads", body: map[string]string{"title": title}},
		{method: "POST", path: "/api/v1/threads", body: map[string]string{"name": title}},
	})
	if err != nil {
		return Thread{}, err
	}
	th := decodeThread(record(body, "thread"))
	if th.ID == "" {
		return Thread{}, &RemoteError{Op: "createThread", Status: 200, Body: string(body), Fatal: true}
	}
	if th.Title == "" {
		th.Title = title
	}
	return th, nil
}

// ListThreads returns all threads the service key can see.
func (c *Client) ListThreads(ctx context.Context) ([]Thread, error) {
	body, err := c.tryAttempts(ctx, "listThreads", []attempt{
		{method: "GET", path: "/api/threads"},
		{method: "GET", path: "/threads"},
		{method: "GET", path: "/api/v1/threads"},
	})
	if err != nil {
		return nil, err
	}
	var out []Thread
	for _, raw := range items(body, "threads") {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			if th := decodeThread(m); th.ID != "" {
				out = append(out, th)
			}
		}
	}
	return out, nil
}

// FindThreadByTitle returns the first thread with an exact title match,
// or a zero Thread when none exists.
func (c *Client) FindThreadByTitle(ctx context.Context, title string) (Thread, bool, error) {
	threads, err := c.ListThreads(ctx)
	if err != nil {
		return Thread{}, false, err
	}
	for _, th := range threads {
		if th.Title == title {
			return th, true, nil
		}
	}
	return Thread{}, false, nil
}

// ListContextSets returns the context sets of a thread.
func (c *Client) ListContextSets(ctx context.Context, threadID string) ([]ContextSet, error) {
	body, err := c.tryAttempts(ctx, "listContextSets", []attempt{
		{method: "GET", path: "/api/threads/" + threadID + "/context-sets"},
		{method: "GET", path: "/api/context-sets", query: url.Values{"thread_id": {threadID}}},
		{method: "GET", path: "/context-sets", query: url.Values{"thread_id": {threadID}}},
	})
	if err != nil {
		return nil, err
	}
	var out []ContextSet
	for _, raw := range items(body, "context_sets", "contextSets", "sets") {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			if cs := decodeContextSet(m); cs.ID != "" {
				if cs.ThreadID == "" {
					cs.ThreadID = threadID
				}
				out = append(out, cs)
			}
		}
	}
	return out, nil
}

// CreateContextSet creates a named context set inside a thread.
func (c *Client) CreateContextSet(ctx context.Context, threadID, name string) (ContextSet, error) {
	body, err := c.tryAttempts(ctx, "createContextSet", []attempt{
		{method: "POST", path: "/api/threads/" + threadID + "/context-sets", body: map[string]string{"name": name}},
		{method: "POST", path: "/api/context-sets", body: map[string]string{"thread_id": threadID, "name": name}},
		{method: "POST", path: "/context-sets", body: map[string]string{"thread_id": threadID, "name": name}},
	})
	if err != nil {
		return ContextSet{}, err
	}
	cs := decodeContextSet(record(body, "context_set", "contextSet"))
	if cs.ID == "" {
		return ContextSet{}, &RemoteError{Op: "createContextSet", Status: 200, Body: string(body), Fatal: true}
	}
	if cs.ThreadID == "" {
		cs.ThreadID = threadID
	}
	if cs.Name == "" {
		cs.Name = name
	}
	return cs, nil
}

func resourceBody(res Resource) map[string]any {
	b := map[string]any{
		"name":          res.Name,
		"summary":       res.Summary,
		"text_mode":     res.TextMode,
		"raw_text":      res.RawText,
		"resource_kind": res.Kind,
		"uri":           res.URI,
		"auto_activate": res.AutoActivate,
	}
	if res.ContextSetID != "" {
		b["context_set_id"] = res.ContextSetID
	}
	if res.AttachTo != "" {
		b["attach_to"] = res.AttachTo
	}
	if res.Payload != nil {
		b["payload_json"] = res.Payload
	}
	return b
}

// CreateResource appends a resource node to the store.
func (c *Client) CreateResource(ctx context.Context, res Resource) (Resource, error) {
	body, err := c.tryAttempts(ctx, "createResource", []attempt{
		{method: "POST", path: "/api/resources", body: resourceBody(res)},
		{method: "POST", path: "/resources", body: resourceBody(res)},
		{method: "POST", path: "/api/nodes", body: resourceBody(res)},
	})
	if err != nil {
		return Resource{}, err
	}
	created := decodeResource(record(body, "resource", "node"))
	if created.ID == "" {
		return Resource{}, &RemoteError{Op: "createResource", Status: 200, Body: string(body), Fatal: true}
	}
	if created.Name == "" {
		created.Name = res.Name
	}
	return created, nil
}

// ListResources lists resources in a context set (optionally filtered by
// kind). When the indexed list endpoint is unavailable it falls back to a
// whole-graph read filtered to resource-like nodes.
func (c *Client) ListResources(ctx context.Context, threadID, contextSetID, kind string) ([]Resource, error) {
	q := url.Values{}
	if contextSetID != "" {
		q.Set("context_set_id", contextSetID)
	}
	if kind != "" {
		q.Set("resource_kind", kind)
	}
	body, err := c.tryAttempts(ctx, "listResources", []attempt{
		{method: "GET", path: "/api/resources", query: q},
		{method: "GET", path: "/resources", query: q},
	})
	if err == nil {
		return c.decodeResources(body, kind), nil
	}
	if IsFatal(err) {
		return nil, err
	}

	// Indexed endpoint unavailable: graph read + filter.
	gq := url.Values{}
	if threadID != "" {
		gq.Set("thread_id", threadID)
	}
	body, gerr := c.tryAttempts(ctx, "listResources(graph)", []attempt{
		{method: "GET", path: "/api/graph", query: gq},
		{method: "GET", path: "/graph", query: gq},
	})
	if gerr != nil {
		return nil, fmt.Errorf("list resources: %w (graph fallback: %v)", err, gerr)
	}

	var out []Resource
	for _, raw := range items(body, "nodes", "resources") {
		var m map[string]any
		if json.Unmarshal(raw, &m) != nil || !resourceLike(m) {
			continue
		}
		res := decodeResource(m)
		if res.ID == "" {
			continue
		}
		if kind != "" && res.Kind != kind {
			continue
		}
		if contextSetID != "" && res.ContextSetID != "" && res.ContextSetID != contextSetID {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (c *Client) decodeResources(body []byte, kind string) []Resource {
	var out []Resource
	for _, raw := range items(body, "resources", "nodes") {
		var m map[string]any
		if json.Unmarshal(raw, &m) != nil {
			continue
		}
		res := decodeResource(m)
		if res.ID == "" {
			continue
		}
		if kind != "" && res.Kind != "" && res.Kind != kind {
			continue
		}
		out = append(out, res)
	}
	return out
}

// CreateEdge links two nodes with a typed directed edge.
func (c *Client) CreateEdge(ctx context.Context, edge Edge) error {
	_, err := c.tryAttempts(ctx, "createEdge", []attempt{
		{method: "POST", path: "/api/edges", body: edge},
		{method: "POST", path: "/edges", body: edge},
		{method: "POST", path: "/api/links", body: map[string]string{
			"from": edge.FromID, "to": edge.ToID, "type": edge.Type,
		}},
	})
	return err
}

// GetCompiledContext returns the compiled text of a context set. An HTML
// body is a fatal misconfiguration, never returned as compiled text.
func (c *Client) GetCompiledContext(ctx context.Context, contextSetID string) (string, error) {
	body, err := c.tryAttempts(ctx, "getCompiledContext", []attempt{
		{method: "GET", path: "/api/context-sets/" + contextSetID + "/compiled"},
		{method: "GET", path: "/api/compiled", query: url.Values{"context_set_id": {contextSetID}}},
		{method: "GET", path: "/context-sets/" + contextSetID + "/compiled"},
	})
	if err != nil {
		return "", err
	}
	if looksLikeHTML(body) {
		return "", &RemoteError{
			Op: "getCompiledContext", Status: 502, Fatal: true,
			Body: "HTML returned — check base URL/proxy",
		}
	}
	// The body is either the compiled text itself or a JSON wrapper.
	if m := record(body); m != nil {
		if text := fieldStr(m, "compiled_text", "text", "compiled"); text != "" {
			return text, nil
		}
	}
	return string(body), nil
}

// GetCompiledContextExplain returns the compiled text plus the explain
// payload and active node ids.
func (c *Client) GetCompiledContextExplain(ctx context.Context, contextSetID string) (CompiledContext, error) {
	body, err := c.tryAttempts(ctx, "getCompiledContextExplain", []attempt{
		{method: "GET", path: "/api/context-sets/" + contextSetID + "/compiled", query: url.Values{"explain": {"1"}}},
		{method: "GET", path: "/api/compiled", query: url.Values{"context_set_id": {contextSetID}, "explain": {"1"}}},
	})
	if err != nil {
		return CompiledContext{}, err
	}
	if looksLikeHTML(body) {
		return CompiledContext{}, &RemoteError{
			Op: "getCompiledContextExplain", Status: 502, Fatal: true,
			Body: "HTML returned — check base URL/proxy",
		}
	}
	m := record(body)
	cc := CompiledContext{Text: fieldStr(m, "compiled_text", "text", "compiled")}
	if ex, ok := m["explain"].(map[string]any); ok {
		cc.Explain = ex
	}
	if ids, ok := m["active_node_ids"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				cc.ActiveNodeIDs = append(cc.ActiveNodeIDs, s)
			}
		}
	}
	if cc.Text == "" {
		cc.Text = string(body)
	}
	return cc, nil
}

// GetNode fetches a single node by id.
func (c *Client) GetNode(ctx context.Context, nodeID string) (Resource, error) {
	body, err := c.tryAttempts(ctx, "getNode", []attempt{
		{method: "GET", path: "/api/nodes/" + nodeID},
		{method: "GET", path: "/api/resources/" + nodeID},
		{method: "GET", path: "/nodes/" + nodeID},
	})
	if err != nil {
		return Resource{}, err
	}
	res := decodeResource(record(body, "node", "resource"))
	if res.ID == "" {
		res.ID = nodeID
	}
	return res, nil
}

// ActivateNodes marks nodes active in their context set.
func (c *Client) ActivateNodes(ctx context.Context, contextSetID string, nodeIDs []string) error {
	return c.toggleNodes(ctx, "activateNodes", "activate", contextSetID, nodeIDs)
}

// DeactivateNodes marks nodes inactive in their context set.
func (c *Client) DeactivateNodes(ctx context.Context, contextSetID string, nodeIDs []string) error {
	return c.toggleNodes(ctx, "deactivateNodes", "deactivate", contextSetID, nodeIDs)
}

func (c *Client) toggleNodes(ctx context.Context, op, verb, contextSetID string, nodeIDs []string) error {
	payload := map[string]any{"node_ids": nodeIDs}
	if contextSetID != "" {
		payload["context_set_id"] = contextSetID
	}
	_, err := c.tryAttempts(ctx, op, []attempt{
		{method: "POST", path: "/api/nodes/" + verb, body: payload},
		{method: "POST", path: "/api/context-sets/" + contextSetID + "/" + verb, body: payload},
		{method: "POST", path: "/nodes/" + verb, body: payload},
	})
	return err
}

// MintUIToken mints a short-lived UI token. A missing token in the
// response is fatal.
func (c *Client) MintUIToken(ctx context.Context, ttlSec int) (UIToken, error) {
	payload := map[string]any{"ttl_sec": ttlSec}
	body, err := c.tryAttempts(ctx, "mintUiToken", []attempt{
		{method: "POST", path: "/api/ui-tokens", body: payload},
		{method: "POST", path: "/api/ui/token", body: payload},
		{method: "POST", path: "/ui-tokens", body: payload},
	})
	if err != nil {
		return UIToken{}, err
	}
	m := record(body)
	tok := UIToken{Token: fieldStr(m, "token")}
	if tok.Token == "" {
		return UIToken{}, &RemoteError{Op: "mintUiToken", Status: 200, Body: "response missing token", Fatal: true}
	}
	switch exp := m["exp"].(type) {
	case string:
		if sec, err := strconv.ParseInt(exp, 10, 64); err == nil {
			tok.Exp = flexTime(float64(sec))
		} else {
			tok.Exp = flexTime(exp)
		}
	default:
		tok.Exp = flexTime(exp)
	}
	return tok, nil
}
