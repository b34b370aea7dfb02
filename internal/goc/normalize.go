package goc

import "encoding/json"

// items funnels the response shapes the store is known to emit — a bare
// array, or an object wrapping the array under one of several keys —
// into a flat list of raw records.
func items(body []byte, keys ...string) []json.RawMessage {
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err == nil {
		return arr
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil
	}
	keys = append(keys, "items", "data", "results")
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &arr); err == nil {
			return arr
		}
	}
	return nil
}

// record decodes one response body that may be the object itself or the
// object wrapped under one of the given keys.
func record(body []byte, keys ...string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil
	}
	for _, k := range keys {
		if inner, ok := obj[k].(map[string]any); ok {
			return inner
		}
	}
	return obj
}

func fieldStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func fieldBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok {
			return b
		}
	}
	return false
}

func decodeThread(m map[string]any) Thread {
	return Thread{
		ID:        fieldStr(m, "id", "thread_id", "uuid"),
		Title:     fieldStr(m, "title", "name"),
		CreatedAt: flexTime(m["created_at"]),
	}
}

func decodeContextSet(m map[string]any) ContextSet {
	return ContextSet{
		ID:       fieldStr(m, "id", "context_set_id", "uuid"),
		ThreadID: fieldStr(m, "thread_id", "thread"),
		Name:     fieldStr(m, "name", "title"),
	}
}

func decodeResource(m map[string]any) Resource {
	res := Resource{
		ID:           fieldStr(m, "id", "node_id", "resource_id", "uuid"),
		Name:         fieldStr(m, "name", "title"),
		Summary:      fieldStr(m, "summary"),
		TextMode:     fieldStr(m, "text_mode"),
		RawText:      fieldStr(m, "raw_text", "text", "content"),
		Kind:         fieldStr(m, "resource_kind", "kind", "type"),
		URI:          fieldStr(m, "uri", "url"),
		ContextSetID: fieldStr(m, "context_set_id"),
		AutoActivate: fieldBool(m, "auto_activate", "active"),
		AttachTo:     fieldStr(m, "attach_to"),
		CreatedAt:    flexTime(m["created_at"]),
	}
	switch p := m["payload_json"].(type) {
	case map[string]any:
		res.Payload = p
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(p), &decoded); err == nil {
			res.Payload = decoded
		}
	}
	if res.Payload == nil {
		if p, ok := m["payload"].(map[string]any); ok {
			res.Payload = p
		}
	}
	return res
}

// resourceLike filters graph nodes down to resource-shaped entries; used
// when the indexed list endpoint is unavailable and the client falls back
// to a whole-graph read.
func resourceLike(m map[string]any) bool {
	if fieldStr(m, "resource_kind", "kind") != "" {
		return true
	}
	if fieldStr(m, "raw_text", "text", "content") != "" {
		return true
	}
	nodeType := fieldStr(m, "node_type", "type")
	return nodeType == "resource" || nodeType == "node"
}
