package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose subtree never contributes readable text.
var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Iframe: true, atom.Svg: true, atom.Head: true, atom.Nav: true,
	atom.Footer: true, atom.Header: true, atom.Form: true, atom.Aside: true,
}

// Elements that start a new line of output.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.Table: true, atom.Tr: true, atom.Br: true, atom.Hr: true,
	atom.Dt: true, atom.Dd: true, atom.Figcaption: true,
}

// minContentChars is how much text a <main> or <article> element needs
// before it replaces the whole body as the extraction root.
const minContentChars = 200

// extractHTML returns the document title and the visible text of its
// main content, one block per line.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", ""
	}

	var content *html.Node
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode {
			continue
		}
		switch n.DataAtom {
		case atom.Title:
			if title == "" {
				title = strings.Join(strings.Fields(render(n, false)), " ")
			}
		case atom.Main, atom.Article:
			if content == nil {
				content = n
			}
		}
	}

	if content != nil {
		if t := normalize(render(content, true)); len(t) >= minContentChars {
			return title, t
		}
	}
	return title, normalize(render(doc, true))
}

// render concatenates the text under n. With skip set, boilerplate
// subtrees are left out and block elements break lines.
func render(n *html.Node, skip bool) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			// Source line breaks inside a text node are not block breaks.
			sb.WriteString(strings.Join(strings.Fields(n.Data), " "))
			sb.WriteByte(' ')
			return
		case html.ElementNode:
			if skip && skipped[n.DataAtom] {
				return
			}
			if blocks[n.DataAtom] {
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// normalize collapses whitespace within lines and drops blank lines.
func normalize(s string) string {
	var out []string
	for line := range strings.Lines(s) {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
