package markdown

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

type inlineKind int

const (
	inlineText inlineKind = iota
	inlineCode
	inlineStrong
	inlineEm
	inlineLink
)

type inline struct {
	kind     inlineKind
	text     string // literal text or code span body
	href     string
	children []inline
}

// parseInline scans a single line. Code spans are taken verbatim, bold is
// matched before italic so the inner markers of a bold span are never
// reinterpreted, and link text is scanned recursively.
func parseInline(s string) []inline {
	var out []inline
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			out = append(out, inline{kind: inlineText, text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '`':
			if end := strings.IndexByte(s[i+1:], '`'); end >= 0 {
				flush()
				out = append(out, inline{kind: inlineCode, text: s[i+1 : i+1+end]})
				i += end + 2
				continue
			}

		case (c == '*' || c == '_') && strings.HasPrefix(s[i:], string([]byte{c, c})):
			delim := s[i : i+2]
			if end := strings.Index(s[i+2:], delim); end > 0 && canOpen(s, i, 2, c) {
				flush()
				out = append(out, inline{kind: inlineStrong, children: parseInline(s[i+2 : i+2+end])})
				i += end + 4
				continue
			}
			text.WriteString(delim)
			i += 2
			continue

		case c == '*' || c == '_':
			if end := findEmphasisClose(s, i, c); end > 0 && canOpen(s, i, 1, c) {
				flush()
				out = append(out, inline{kind: inlineEm, children: parseInline(s[i+1 : end])})
				i = end + 1
				continue
			}

		case c == '[':
			if label, href, n, ok := scanLink(s[i:]); ok {
				flush()
				out = append(out, inline{kind: inlineLink, href: href, children: parseInline(label)})
				i += n
				continue
			}
		}

		text.WriteByte(c)
		i++
	}
	flush()
	return out
}

// canOpen rejects emphasis that opens on whitespace, and underscore emphasis
// in the middle of a word (snake_case identifiers).
func canOpen(s string, i, width int, c byte) bool {
	if i+width >= len(s) || s[i+width] == ' ' {
		return false
	}
	if c == '_' && i > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:i])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// findEmphasisClose returns the index of the single delimiter closing the
// emphasis opened at i, or -1.
func findEmphasisClose(s string, i int, c byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != c {
			continue
		}
		if j+1 < len(s) && s[j+1] == c {
			// Skip over a nested strong delimiter.
			j++
			continue
		}
		if j == i+1 || s[j-1] == ' ' {
			return -1
		}
		if c == '_' && j+1 < len(s) {
			r, _ := utf8.DecodeRuneInString(s[j+1:])
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				continue
			}
		}
		return j
	}
	return -1
}

// scanLink parses "[label](href)" at the start of s and returns the number
// of bytes consumed.
func scanLink(s string) (label, href string, n int, ok bool) {
	closeLabel := strings.Index(s, "](")
	if closeLabel <= 1 {
		return "", "", 0, false
	}
	closeHref := strings.IndexByte(s[closeLabel+2:], ')')
	if closeHref < 0 {
		return "", "", 0, false
	}
	label = s[1:closeLabel]
	if strings.ContainsAny(label, "[]") {
		return "", "", 0, false
	}
	href = strings.TrimSpace(s[closeLabel+2 : closeLabel+2+closeHref])
	return label, href, closeLabel + 2 + closeHref + 1, true
}

func writeInline(sb *strings.Builder, nodes []inline) {
	for _, n := range nodes {
		switch n.kind {
		case inlineText:
			sb.WriteString(html.EscapeString(n.text))
		case inlineCode:
			sb.WriteString("<code>")
			sb.WriteString(html.EscapeString(n.text))
			sb.WriteString("</code>")
		case inlineStrong:
			sb.WriteString("<strong>")
			writeInline(sb, n.children)
			sb.WriteString("</strong>")
		case inlineEm:
			sb.WriteString("<em>")
			writeInline(sb, n.children)
			sb.WriteString("</em>")
		case inlineLink:
			if SafeHref(n.href) {
				sb.WriteString(`<a href="`)
				sb.WriteString(html.EscapeString(n.href))
				sb.WriteString(`" target="_blank" rel="noopener noreferrer">`)
			} else {
				sb.WriteString("<a>")
			}
			writeInline(sb, n.children)
			sb.WriteString("</a>")
		}
	}
}
