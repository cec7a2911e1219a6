// Package markup turns model output into HTML.
//
// Simple is the panel's small transform. It understands exactly:
//
//	# h1, ## h2, ### h3      headers at line start
//	**bold**, *italic*      inline emphasis
//	`code`                  inline code
//	1. item                 ordered list items
//	- item, * item          unordered list items
//	blank line              paragraph break
//
// Everything else is escaped text. Full renders a complete markdown document
// for the popup's detail view.
package markup

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/russross/blackfriday/v2"
)

var (
	headerPattern  = regexp.MustCompile(`^(#{1,3}) (.*)$`)
	orderedPattern = regexp.MustCompile(`^\d+\.\s+(.*)$`)
	bulletPattern  = regexp.MustCompile(`^[-*]\s+(.*)$`)
	codePattern    = regexp.MustCompile("`([^`]+)`")
	boldPattern    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern  = regexp.MustCompile(`\*(.+?)\*`)
)

// Simple converts the supported subset of markdown to HTML.
func Simple(markdown string) string {
	markdown = strings.ReplaceAll(markdown, "\r\n", "\n")

	var out strings.Builder
	for _, block := range strings.Split(markdown, "\n\n") {
		renderBlock(&out, block)
	}
	return out.String()
}

type listKind int

const (
	noList listKind = iota
	orderedList
	unorderedList
)

func renderBlock(out *strings.Builder, block string) {
	var (
		para []string
		list = noList
	)

	flushPara := func() {
		if len(para) > 0 {
			out.WriteString("<p>" + strings.Join(para, "\n") + "</p>")
			para = nil
		}
	}
	closeList := func() {
		switch list {
		case orderedList:
			out.WriteString("</ol>")
		case unorderedList:
			out.WriteString("</ul>")
		}
		list = noList
	}
	openList := func(kind listKind) {
		if list == kind {
			return
		}
		closeList()
		if kind == orderedList {
			out.WriteString("<ol>")
		} else {
			out.WriteString("<ul>")
		}
		list = kind
	}

	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
			flushPara()
			closeList()
			level := string(rune('0' + len(m[1])))
			out.WriteString("<h" + level + ">" + inline(m[2]) + "</h" + level + ">")
			continue
		}
		if m := orderedPattern.FindStringSubmatch(trimmed); m != nil {
			flushPara()
			openList(orderedList)
			out.WriteString("<li>" + inline(m[1]) + "</li>")
			continue
		}
		if m := bulletPattern.FindStringSubmatch(trimmed); m != nil {
			flushPara()
			openList(unorderedList)
			out.WriteString("<li>" + inline(m[1]) + "</li>")
			continue
		}

		closeList()
		para = append(para, inline(trimmed))
	}
	flushPara()
	closeList()
}

// inline escapes text and applies code, bold and italic. Code spans are left
// untouched by emphasis.
func inline(text string) string {
	var out strings.Builder
	last := 0
	for _, loc := range codePattern.FindAllStringSubmatchIndex(text, -1) {
		out.WriteString(emphasis(html.EscapeString(text[last:loc[0]])))
		out.WriteString("<code>" + html.EscapeString(text[loc[2]:loc[3]]) + "</code>")
		last = loc[1]
	}
	out.WriteString(emphasis(html.EscapeString(text[last:])))
	return out.String()
}

func emphasis(text string) string {
	text = boldPattern.ReplaceAllString(text, "<strong>$1</strong>")
	return italicPattern.ReplaceAllString(text, "<em>$1</em>")
}

// Full renders a complete markdown document. Literal "\n" sequences, which
// the remote model sometimes emits inside JSON strings, become real newlines.
// Raw HTML in the input is dropped.
func Full(markdown string) string {
	markdown = strings.ReplaceAll(markdown, `\n`, "\n")
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags | blackfriday.SkipHTML,
	})
	return string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
		blackfriday.WithRenderer(renderer)))
}

// PlainText renders markdown and flattens it to text with one line per block,
// for terminal output.
func PlainText(markdown string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(Full(markdown)))
	if err != nil {
		return markdown
	}

	var lines []string
	doc.Find("h1, h2, h3, h4, p, li, pre").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "p" && s.Parent().Is("li") {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			text = "  - " + text
		}
		lines = append(lines, text)
	})
	return strings.Join(lines, "\n")
}
