// Package markdown renders the restricted markdown subset produced by bots
// into HTML that is safe to inject into an untrusted host page.
//
// Rendering is a two stage process. A block scanner and an inline scanner
// build a typed node tree which is serialized using only allow-listed tags,
// with every piece of raw text escaped. The serialized output is then passed
// through Sanitize, which re-parses it as HTML and drops anything outside the
// allow-list.
package markdown

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

type blockKind int

const (
	blockLine blockKind = iota
	blockCode
	blockHeading
	blockQuote
	blockRule
	blockList
)

// block is one top-level element of a document.
type block struct {
	kind    blockKind
	level   int        // heading level
	lang    string     // fenced code language
	code    string     // fenced code body, raw
	inline  []inline   // line and heading content
	lines   [][]inline // blockquote lines
	ordered bool
	items   [][]inline
	blank   bool // empty source line
}

var (
	headingRe   = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+(.*?)\s*$`)
	unorderedRe = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
	orderedRe   = regexp.MustCompile(`^\s*(\d{1,9})[.)]\s+(.*)$`)
	quoteRe     = regexp.MustCompile(`^\s{0,3}>\s?(.*)$`)
	langRe      = regexp.MustCompile(`^[A-Za-z0-9_+#-]{1,32}$`)
)

// Render converts text to sanitized HTML. It is pure and deterministic.
func Render(text string) string {
	blocks := parseBlocks(text)
	return Sanitize(serialize(blocks))
}

func parseBlocks(text string) []block {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Trim(text, "\n")
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var blocks []block

	for i := 0; i < len(lines); {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "```"):
			lang := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			var body []string
			i++
			for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
				body = append(body, lines[i])
				i++
			}
			i++ // closing fence, or past the end for an unterminated block
			blocks = append(blocks, block{kind: blockCode, lang: lang, code: strings.Join(body, "\n")})

		case isRule(trimmed):
			blocks = append(blocks, block{kind: blockRule})
			i++

		case headingRe.MatchString(line):
			m := headingRe.FindStringSubmatch(line)
			blocks = append(blocks, block{kind: blockHeading, level: len(m[1]), inline: parseInline(m[2])})
			i++

		case quoteRe.MatchString(line):
			var quoted [][]inline
			for i < len(lines) && quoteRe.MatchString(lines[i]) {
				quoted = append(quoted, parseInline(quoteRe.FindStringSubmatch(lines[i])[1]))
				i++
			}
			blocks = append(blocks, block{kind: blockQuote, lines: quoted})

		case unorderedRe.MatchString(line), orderedRe.MatchString(line):
			ordered := orderedRe.MatchString(line)
			re := unorderedRe
			if ordered {
				re = orderedRe
			}
			var items [][]inline
			for i < len(lines) && re.MatchString(lines[i]) && !isRule(strings.TrimSpace(lines[i])) {
				m := re.FindStringSubmatch(lines[i])
				items = append(items, parseInline(m[len(m)-1]))
				i++
				// Blank lines between items of the same list do not end it.
				if j := skipBlank(lines, i); j > i && j < len(lines) && re.MatchString(lines[j]) && !isRule(strings.TrimSpace(lines[j])) {
					i = j
				}
			}
			blocks = append(blocks, block{kind: blockList, ordered: ordered, items: items})

		case trimmed == "":
			blocks = append(blocks, block{kind: blockLine, blank: true})
			i++

		default:
			blocks = append(blocks, block{kind: blockLine, inline: parseInline(line)})
			i++
		}
	}
	return dropBlankAroundBlocks(blocks)
}

func skipBlank(lines []string, i int) int {
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return i
}

// dropBlankAroundBlocks removes runs of blank lines that touch a block
// element. Between two text lines a blank line still renders as a break.
func dropBlankAroundBlocks(blocks []block) []block {
	out := make([]block, 0, len(blocks))
	for i := 0; i < len(blocks); {
		if !blocks[i].blank {
			out = append(out, blocks[i])
			i++
			continue
		}
		end := i
		for end < len(blocks) && blocks[end].blank {
			end++
		}
		touchesBlock := (i > 0 && blocks[i-1].kind != blockLine) ||
			(end < len(blocks) && blocks[end].kind != blockLine)
		if !touchesBlock {
			out = append(out, blocks[i:end]...)
		}
		i = end
	}
	return out
}

// isRule reports whether a trimmed line is a thematic break: three or more
// of the same marker character, optionally separated by spaces.
func isRule(trimmed string) bool {
	if len(trimmed) < 3 {
		return false
	}
	marker := trimmed[0]
	if marker != '-' && marker != '*' && marker != '_' {
		return false
	}
	count := 0
	for i := 0; i < len(trimmed); i++ {
		switch trimmed[i] {
		case marker:
			count++
		case ' ', '\t':
		default:
			return false
		}
	}
	return count >= 3
}

func serialize(blocks []block) string {
	var sb strings.Builder
	for i, b := range blocks {
		// Newlines only become breaks between two inline lines. Block
		// elements already separate themselves.
		if i > 0 && b.kind == blockLine && blocks[i-1].kind == blockLine {
			sb.WriteString("<br>")
		}

		switch b.kind {
		case blockLine:
			writeInline(&sb, b.inline)
		case blockCode:
			sb.WriteString("<pre><code")
			if langRe.MatchString(b.lang) {
				sb.WriteString(` class="language-`)
				sb.WriteString(html.EscapeString(strings.ToLower(b.lang)))
				sb.WriteString(`"`)
			}
			sb.WriteString(">")
			sb.WriteString(html.EscapeString(b.code))
			sb.WriteString("</code></pre>")
		case blockHeading:
			tag := "h" + strconv.Itoa(b.level)
			sb.WriteString("<" + tag + ">")
			writeInline(&sb, b.inline)
			sb.WriteString("</" + tag + ">")
		case blockQuote:
			sb.WriteString("<blockquote>")
			for j, l := range b.lines {
				if j > 0 {
					sb.WriteString("<br>")
				}
				writeInline(&sb, l)
			}
			sb.WriteString("</blockquote>")
		case blockRule:
			sb.WriteString("<hr>")
		case blockList:
			tag := "ul"
			if b.ordered {
				tag = "ol"
			}
			sb.WriteString("<" + tag + ">")
			for _, item := range b.items {
				sb.WriteString("<li>")
				writeInline(&sb, item)
				sb.WriteString("</li>")
			}
			sb.WriteString("</" + tag + ">")
		}
	}
	return sb.String()
}
