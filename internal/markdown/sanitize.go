package markdown

import (
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var allowedTags = map[string]bool{
	"strong": true, "em": true, "code": true, "pre": true, "a": true,
	"ul": true, "ol": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "hr": true, "br": true,
}

var voidTags = map[string]bool{"br": true, "hr": true}

var blockedSchemes = []string{"javascript:", "data:", "vbscript:"}

// SafeHref reports whether href may be emitted. Whitespace and control
// characters are removed before the scheme check because browsers ignore
// them ("java\tscript:" still executes).
func SafeHref(href string) bool {
	normalized := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, strings.ToLower(html.UnescapeString(href)))
	if normalized == "" {
		return false
	}
	for _, scheme := range blockedSchemes {
		if strings.HasPrefix(normalized, scheme) {
			return false
		}
	}
	return true
}

// Sanitize re-parses an HTML fragment and serializes it back keeping only
// allow-listed tags. Any other element is replaced by its text content, and
// only a small set of attributes survives.
func Sanitize(fragment string) string {
	if fragment == "" {
		return ""
	}
	context := &xhtml.Node{Type: xhtml.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := xhtml.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return html.EscapeString(fragment)
	}

	var sb strings.Builder
	for _, n := range nodes {
		writeNode(&sb, n)
	}
	return sb.String()
}

func writeNode(sb *strings.Builder, n *xhtml.Node) {
	switch n.Type {
	case xhtml.TextNode:
		sb.WriteString(html.EscapeString(n.Data))
	case xhtml.ElementNode:
		if !allowedTags[n.Data] {
			sb.WriteString(html.EscapeString(textContent(n)))
			return
		}
		sb.WriteString("<")
		sb.WriteString(n.Data)
		for _, a := range n.Attr {
			if val, ok := allowedAttr(n.Data, a); ok {
				sb.WriteString(" ")
				sb.WriteString(a.Key)
				sb.WriteString(`="`)
				sb.WriteString(html.EscapeString(val))
				sb.WriteString(`"`)
			}
		}
		sb.WriteString(">")
		if voidTags[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(sb, c)
		}
		sb.WriteString("</")
		sb.WriteString(n.Data)
		sb.WriteString(">")
	}
	// Comments, doctypes and processing instructions are dropped.
}

func allowedAttr(tag string, a xhtml.Attribute) (string, bool) {
	if a.Namespace != "" {
		return "", false
	}
	switch tag {
	case "a":
		switch a.Key {
		case "href":
			return a.Val, SafeHref(a.Val)
		case "target":
			return "_blank", a.Val == "_blank"
		case "rel":
			return "noopener noreferrer", true
		}
	case "code":
		if a.Key == "class" && strings.HasPrefix(a.Val, "language-") && !strings.ContainsAny(a.Val, " \"'<>") {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *xhtml.Node) string {
	if n.Type == xhtml.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
