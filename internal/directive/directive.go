// Package directive removes inline control markers such as
// [ACTION:{"action_id":"a1"}] from model output before it is displayed or
// stored.
//
// Text arrives incrementally, so a marker may be incomplete at the tail of
// the buffer. Only complete markers are removed; an incomplete one, and
// everything after it, is left as-is until more text arrives.
package directive

import (
	"encoding/json"
	"strings"
)

// Tokens are the marker names recognized, matched case-insensitively.
var Tokens = []string{"DIRECTIVE", "ACTION", "TRIGGER_ACTION", "FUNCTION_CALL", "SHOW_PRODUCTS"}

// Directive is a complete marker found in text.
type Directive struct {
	Name    string // upper-cased token
	Payload string // raw content between the colon and the closing bracket
}

// Args decodes the payload as a JSON object. A bare, non-JSON payload is
// returned under the "value" key.
func (d Directive) Args() map[string]any {
	p := strings.TrimSpace(d.Payload)
	var args map[string]any
	if err := json.Unmarshal([]byte(p), &args); err == nil && args != nil {
		return args
	}
	return map[string]any{"value": strings.Trim(p, `"' `)}
}

// Strip returns text with all complete markers removed.
func Strip(text string) string {
	visible, _ := Extract(text)
	return visible
}

// Extract returns the visible text together with the complete markers that
// were removed from it, in order of appearance.
func Extract(text string) (string, []Directive) {
	if !strings.Contains(text, "[") {
		return text, nil
	}

	var sb strings.Builder
	var found []Directive
	i := 0
	for i < len(text) {
		open := strings.IndexByte(text[i:], '[')
		if open < 0 {
			sb.WriteString(text[i:])
			break
		}
		open += i
		sb.WriteString(text[i:open])

		name, bodyStart, ok := matchToken(text[open:])
		if !ok {
			if isTokenPrefix(text[open:]) {
				// The token itself may still be arriving.
				sb.WriteString(text[open:])
				break
			}
			sb.WriteByte('[')
			i = open + 1
			continue
		}

		end := findClose(text, open+bodyStart)
		if end < 0 {
			sb.WriteString(text[open:])
			break
		}
		found = append(found, Directive{Name: name, Payload: text[open+bodyStart : end]})
		i = end + 1
	}
	return sb.String(), found
}

// matchToken reports whether s starts with "[TOKEN:" and returns the token
// and the offset of the payload.
func matchToken(s string) (string, int, bool) {
	colon := strings.IndexByte(s, ':')
	if colon < 2 {
		return "", 0, false
	}
	candidate := strings.TrimSpace(s[1:colon])
	for _, tok := range Tokens {
		if strings.EqualFold(candidate, tok) {
			return tok, colon + 1, true
		}
	}
	return "", 0, false
}

// isTokenPrefix reports whether s is "[" followed by a proper prefix of a
// token with no colon yet, e.g. "[ACT" at the end of a buffer.
func isTokenPrefix(s string) bool {
	rest := strings.ToUpper(s[1:])
	if strings.ContainsAny(rest, ":]\n ") {
		return false
	}
	for _, tok := range Tokens {
		if strings.HasPrefix(tok, rest) {
			return true
		}
	}
	return false
}

// findClose returns the index of the "]" closing a marker whose payload
// starts at start, skipping nested brackets and braces and JSON strings.
func findClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ']':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}
