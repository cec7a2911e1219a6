package page

import (
	"fmt"
	"strings"

	"dlevel-stack/shared/youtube"

	"github.com/PuerkitoBio/goquery"
)

const maxComments = 5

// Metadata is what the page agent scrapes from a watch view.
type Metadata struct {
	VideoID     string
	Title       string
	Channel     string
	Views       string
	Uploaded    string
	Likes       string
	Description string
	Comments    []string
	Kids        bool
}

// Scrape reads the watch view metadata out of doc. Live-rendered selectors
// are tried first, then the meta tags a statically served page carries.
func Scrape(doc *goquery.Document, pageURL string) Metadata {
	m := Metadata{
		VideoID: youtube.VideoIDFromURL(pageURL),
		Kids:    youtube.IsKidsHost(pageURL),
	}

	if m.Kids {
		m.Title = orDefault(firstText(doc,
			"h1#video-title.ytk-slim-video-metadata-renderer",
			"h1#video-title",
		), metaContent(doc, `meta[property="og:title"]`), "No Title")
		m.Channel = orDefault(firstText(doc,
			"span#video-owner",
			"#owner-data-container span",
		), "Unknown Channel")
		m.Description = "YouTube Kids - description not available"
		m.Views = "Not shown on YouTube Kids"
		m.Uploaded = "Not shown on YouTube Kids"
		m.Likes = "Not shown on YouTube Kids"
		return m
	}

	m.Title = orDefault(
		firstText(doc, "h1.ytd-watch-metadata"),
		metaContent(doc, `meta[name="title"]`, `meta[property="og:title"]`),
		"No Title",
	)
	m.Description = orDefault(
		firstText(doc, "#description-inline-expander"),
		metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`),
		"No Description",
	)
	m.Channel = orDefault(
		firstText(doc, "ytd-channel-name a"),
		metaContent(doc, `span[itemprop="author"] link[itemprop="name"]`),
		"Unknown Channel",
	)

	views := firstText(doc, "ytd-video-view-count-renderer span.view-count")
	if views == "" {
		if n := metaContent(doc, `meta[itemprop="interactionCount"]`); n != "" {
			views = n + " views"
		}
	}
	m.Views = orDefault(views, "Unknown views")

	m.Uploaded = orDefault(
		firstText(doc, "#info-strings yt-formatted-string"),
		metaContent(doc, `meta[itemprop="uploadDate"]`, `meta[itemprop="datePublished"]`),
		"Unknown date",
	)

	likes, _ := doc.Find(`like-button-view-model button[aria-label*="like"]`).First().Attr("aria-label")
	m.Likes = orDefault(strings.TrimSpace(likes), "Likes unavailable")

	doc.Find("#comments #content-text").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m.Comments = append(m.Comments, strings.TrimSpace(s.Text()))
		return len(m.Comments) < maxComments
	})

	return m
}

// Text renders the block stored as the pending analysis text. The
// "Video ID: <id>" line is what the panel derives the identifier from.
func (m Metadata) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "VIDEO TITLE:\n%s\n", m.Title)
	if m.VideoID != "" {
		fmt.Fprintf(&b, "Video ID: %s\n", m.VideoID)
	}
	fmt.Fprintf(&b, "\nCHANNEL:\n%s\n\n", m.Channel)
	fmt.Fprintf(&b, "VIEWS: %s\nUPLOADED: %s\n%s\n\n", m.Views, m.Uploaded, m.Likes)
	fmt.Fprintf(&b, "DESCRIPTION:\n%s\n\n", m.Description)

	switch {
	case m.Kids:
		b.WriteString("Comments disabled on YouTube Kids")
	case len(m.Comments) == 0:
		b.WriteString("Comments not loaded yet")
	default:
		b.WriteString("TOP COMMENTS:")
		for i, c := range m.Comments {
			fmt.Fprintf(&b, "\nComment %d: %s", i+1, c)
		}
	}
	return b.String()
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			if text := strings.TrimSpace(s.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func orDefault(values ...string) string {
	for _, v := range values[:len(values)-1] {
		if v != "" {
			return v
		}
	}
	return values[len(values)-1]
}
