package scraper

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// minBlockLength is the text length a class-matched div needs before it is
// taken as the article body.
const minBlockLength = 500

// strategy locates the main article container in a parsed page.
type strategy struct {
	name string
	find func(*html.Node) *html.Node
}

// strategies run in order; the first hit wins.
var strategies = []strategy{
	{"itemprop", func(doc *html.Node) *html.Node {
		return find(doc, func(n *html.Node) bool {
			return isElement(n, "div") && attr(n, "itemprop") == "articleBody"
		})
	}},
	{"article", func(doc *html.Node) *html.Node {
		return find(doc, func(n *html.Node) bool { return isElement(n, "article") })
	}},
	{"class", func(doc *html.Node) *html.Node {
		return find(doc, func(n *html.Node) bool {
			if !isElement(n, "div") || !contentClass(attr(n, "class")) {
				return false
			}
			return utf8.RuneCountInString(strings.Join(texts(n), "")) > minBlockLength
		})
	}},
}

func contentClass(class string) bool {
	class = strings.ToLower(class)
	for _, key := range []string{"article", "content", "text"} {
		if strings.Contains(class, key) {
			return true
		}
	}
	return false
}

// Extract returns the main text of an article page: headings, paragraphs
// and list items of the article container, one per line. Pages with no
// recognizable container fall back to all visible text.
func Extract(doc *html.Node) string {
	text, _ := extract(doc)
	return text
}

// ExtractString parses page and runs Extract.
func ExtractString(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	return Extract(doc)
}

// extract also reports which strategy matched, "fallback" if none did.
func extract(doc *html.Node) (string, string) {
	for _, st := range strategies {
		main := st.find(doc)
		if main == nil {
			continue
		}
		return blockText(main), st.name
	}
	return collapse(strings.Join(texts(doc), " ")), "fallback"
}

func blockText(main *html.Node) string {
	var parts []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				switch c.Data {
				case "h2", "h3", "p", "li":
					if t := collapse(textOf(c)); t != "" {
						parts = append(parts, t)
					}
					continue
				}
			}
			visit(c)
		}
	}
	visit(main)
	return strings.Join(parts, "\n")
}

// texts returns the trimmed, non-empty text nodes under n in document
// order, skipping script and style content.
func texts(n *html.Node) []string {
	var out []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				out = append(out, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return out
}

func textOf(n *html.Node) string { return strings.Join(texts(n), " ") }

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// walk visits n and its descendants in document order until f returns false.
func walk(n *html.Node, f func(*html.Node) bool) bool {
	if !f(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, f) {
			return false
		}
	}
	return true
}

func find(n *html.Node, pred func(*html.Node) bool) *html.Node {
	var hit *html.Node
	walk(n, func(n *html.Node) bool {
		if pred(n) {
			hit = n
			return false
		}
		return true
	})
	return hit
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
