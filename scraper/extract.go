package scraper

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	minContentRunes   = 100
	minParagraphRunes = 50
	maxAuthorRunes    = 100
)

// Boilerplate elements removed before content extraction.
var boilerplate = []atom.Atom{atom.Script, atom.Style, atom.Nav, atom.Footer, atom.Header, atom.Aside, atom.Form}

var contentClasses = []string{"article-body", "article-content", "post-content", "entry-content", "story-body"}

var contentIDs = []string{"article-body", "content"}

var authorClasses = []string{"author", "byline", "author-name"}

// dateLayouts are tried in order for published-date values.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
}

func extractTitle(doc *html.Node) string {
	if v := metaContent(doc, "property", "og:title"); v != "" {
		return v
	}
	if v := metaContent(doc, "name", "twitter:title"); v != "" {
		return v
	}
	if h1 := findFirst(doc, isElement(atom.H1)); h1 != nil {
		if v := textOf(h1); v != "" {
			return v
		}
	}
	if t := findFirst(doc, isElement(atom.Title)); t != nil {
		return textOf(t)
	}
	return ""
}

func extractAuthor(doc *html.Node) string {
	if v := metaContent(doc, "name", "author"); v != "" {
		return v
	}
	tags := []atom.Atom{atom.A, atom.Span, atom.Div, atom.P}
	matchers := make([]func(*html.Node) bool, 0, len(authorClasses)+1)
	for _, class := range authorClasses {
		matchers = append(matchers, hasClass(class))
	}
	matchers = append(matchers, func(n *html.Node) bool { return attr(n, "rel") == "author" })

	for _, match := range matchers {
		n := findFirst(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && slices.Contains(tags, n.DataAtom) && match(n)
		})
		if n == nil {
			continue
		}
		text := textOf(n)
		if len(text) >= 3 && strings.EqualFold(text[:3], "by ") {
			text = strings.TrimSpace(text[3:])
		}
		if text != "" && utf8.RuneCountInString(text) < maxAuthorRunes {
			return text
		}
	}
	return ""
}

func extractPublishedAt(doc *html.Node) *time.Time {
	if t, ok := parseDate(metaContent(doc, "property", "article:published_time")); ok {
		return &t
	}
	if tag := findFirst(doc, isElement(atom.Time)); tag != nil {
		v := attr(tag, "datetime")
		if v == "" {
			v = textOf(tag)
		}
		if t, ok := parseDate(v); ok {
			return &t
		}
	}
	candidates := [][2]string{
		{"name", "date"},
		{"name", "publish-date"},
		{"name", "article:published_time"},
		{"property", "datePublished"},
	}
	for _, c := range candidates {
		if t, ok := parseDate(metaContent(doc, c[0], c[1])); ok {
			return &t
		}
	}
	return nil
}

// extractContent strips boilerplate from doc and returns the article text.
func extractContent(doc *html.Node) string {
	removeAll(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && slices.Contains(boilerplate, n.DataAtom)
	})

	if article := findFirst(doc, isElement(atom.Article)); article != nil {
		if v := joinParagraphs(article, 0); utf8.RuneCountInString(v) > minContentRunes {
			return v
		}
	}

	containers := make([]func(*html.Node) bool, 0, len(contentClasses)+len(contentIDs))
	for _, class := range contentClasses {
		containers = append(containers, hasClass(class))
	}
	for _, id := range contentIDs {
		containers = append(containers, func(n *html.Node) bool { return attr(n, "id") == id })
	}
	for _, match := range containers {
		div := findFirst(doc, func(n *html.Node) bool { return isElement(atom.Div)(n) && match(n) })
		if div == nil {
			continue
		}
		if v := joinParagraphs(div, 0); utf8.RuneCountInString(v) > minContentRunes {
			return v
		}
	}

	return joinParagraphs(doc, minParagraphRunes)
}

// joinParagraphs joins the text of every <p> under root whose text is longer
// than minRunes.
func joinParagraphs(root *html.Node, minRunes int) string {
	var parts []string
	walk(root, func(n *html.Node) bool {
		if isElement(atom.P)(n) {
			if v := textOf(n); v != "" && utf8.RuneCountInString(v) > minRunes {
				parts = append(parts, v)
			}
			return false
		}
		return true
	})
	return strings.Join(parts, " ")
}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// --- node helpers ---

func metaContent(doc *html.Node, key, value string) string {
	n := findFirst(doc, func(n *html.Node) bool {
		return isElement(atom.Meta)(n) && attr(n, key) == value && strings.TrimSpace(attr(n, "content")) != ""
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attr(n, "content"))
}

func isElement(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.DataAtom == a }
}

func hasClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && slices.Contains(strings.Fields(attr(n, "class")), class)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// walk visits n and its descendants depth first; fn returns false to skip
// the children of a node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if match(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

func removeAll(root *html.Node, match func(*html.Node) bool) {
	var doomed []*html.Node
	walk(root, func(n *html.Node) bool {
		if match(n) {
			doomed = append(doomed, n)
			return false
		}
		return true
	})
	for _, n := range doomed {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

// textOf returns the text under n with whitespace runs collapsed.
func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return strings.Join(strings.Fields(b.String()), " ")
}
