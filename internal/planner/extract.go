package planner

import (
	"encoding/json"
	"strings"

	"github.com/titanous/json5"
)

// ExtractJSONObject pulls the first JSON object out of an LLM response.
// Three tiers: fenced code blocks, a balanced-brace scan over the raw
// text, and a lenient json5 parse of the whole body.
func ExtractJSONObject(text string) (map[string]any, bool) {
	for _, block := range fencedBlocks(text) {
		if m, ok := parseObject(block); ok {
			return m, true
		}
	}
	if candidate := balancedObject(text); candidate != "" {
		if m, ok := parseObject(candidate); ok {
			return m, true
		}
	}
	var m map[string]any
	if err := json5.Unmarshal([]byte(strings.TrimSpace(text)), &m); err == nil && m != nil {
		return m, true
	}
	return nil, false
}

func parseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err == nil && m != nil {
		return m, true
	}
	if err := json5.Unmarshal([]byte(s), &m); err == nil && m != nil {
		return m, true
	}
	return nil, false
}

// balancedObject returns the first balanced {...} span in text, honoring
// string literals and escapes so braces inside strings do not miscount.
func balancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// fencedBlocks returns the contents of ``` fenced blocks with language
// tags stripped.
func fencedBlocks(text string) []string {
	var blocks []string
	lines := strings.Split(text, "\n")
	var cur []string
	in := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if in {
				blocks = append(blocks, strings.Join(cur, "\n"))
				cur = nil
			}
			in = !in
			continue
		}
		if in {
			cur = append(cur, line)
		}
	}
	return blocks
}
