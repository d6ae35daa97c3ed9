package crawler

import (
	"bytes"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Link is one outlink found on a page: the absolute target URL and the
// anchor text it was presented with.
type Link struct {
	URL  *URL
	Text string
}

// PageParser extracts page metadata and outlinks from fetched HTML. A new
// struct is intended to have Parse() called on it, which will populate its
// member variables for reading. Parse resets the members, so one parser can
// be reused across pages.
type PageParser struct {
	// Title is the trimmed <title> text, capped at 500 characters to fit
	// the domains.title column.
	Title string
	// Description comes from <meta name="description">, falling back to
	// the og:description property.
	Description string
	// Keywords is the raw <meta name="keywords"> content. The tagger
	// splits it later.
	Keywords string
	// FaviconURL is the first icon-flavored <link rel> resolved against
	// the page URL, or /favicon.ico on the page's host when none appears.
	FaviconURL string
	// Links are the page's anchors, made absolute against the page URL.
	Links []Link
}

const maxTitleLength = 500

// IsHTMLContent reports whether a Content-Type header names a document the
// parser understands.
func IsHTMLContent(contentType string) bool {
	if contentType == "" {
		// Lots of small sites omit the header; sniffing the body is more
		// harm than good, so assume HTML and let the parser sort it out.
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

// Parse parses the body as HTML and populates the parser's member variables.
// base must be the final (post-redirect) URL of the page so relative links
// and the favicon resolve correctly. contentType drives charset conversion
// and may be empty.
func (p *PageParser) Parse(body []byte, contentType string, base *URL) error {
	p.Title = ""
	p.Description = ""
	p.Keywords = ""
	p.FaviconURL = ""
	p.Links = nil

	utf8Reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(utf8Reader)
	if err != nil {
		return err
	}

	p.Title = squashSpace(doc.Find("title").First().Text())
	if len(p.Title) > maxTitleLength {
		p.Title = p.Title[:maxTitleLength]
	}

	p.Description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if p.Description == "" {
		p.Description = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}
	p.Keywords = strings.TrimSpace(doc.Find(`meta[name="keywords"]`).AttrOr("content", ""))

	p.FaviconURL = p.findFavicon(doc, base)
	p.findLinks(doc, base)
	return nil
}

func (p *PageParser) findFavicon(doc *goquery.Document, base *URL) string {
	href := ""
	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		if !strings.Contains(rel, "icon") {
			return true
		}
		if h := strings.TrimSpace(s.AttrOr("href", "")); h != "" {
			href = h
			return false
		}
		return true
	})
	if href == "" {
		href = "/favicon.ico"
	}
	u, err := ParseURL(href)
	if err != nil {
		return ""
	}
	u.MakeAbsolute(base)
	return u.String()
}

func (p *PageParser) findLinks(doc *goquery.Document, base *URL) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := ParseURL(href)
		if err != nil {
			return
		}
		u.MakeAbsolute(base)
		if !u.IsHTTP() {
			return
		}
		p.Links = append(p.Links, Link{URL: u, Text: squashSpace(s.Text())})
	})
}

// squashSpace trims s and collapses internal whitespace runs to single
// spaces, which is how anchor text compares against the generic-text rules.
func squashSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
