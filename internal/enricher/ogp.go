package enricher

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// OGP is the social metadata scraped from a page.
type OGP struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Image string `json:"image"`
}

// Empty reports whether neither a title nor an image was found.
func (o OGP) Empty() bool {
	return o.Title == "" && o.Image == ""
}

var (
	titleSelectors = []string{
		`meta[property="og:title"]`,
		`meta[name="twitter:title"], meta[property="twitter:title"]`,
	}
	imageSelectors = []string{
		`meta[property="og:image"]`,
		`meta[property="og:image:url"]`,
		`meta[property="og:image:secure_url"]`,
		`meta[name="twitter:image"], meta[property="twitter:image"]`,
		`meta[name="twitter:image:src"]`,
	}
)

// ParseOGP extracts title and image candidates in priority order: Open
// Graph, then Twitter cards, then the document title or image_src link.
// Relative image URLs are resolved against pageURL.
func ParseOGP(body []byte, pageURL string) (OGP, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return OGP{}, fmt.Errorf("parse html: %w", err)
	}
	out := OGP{URL: pageURL}

	for _, sel := range titleSelectors {
		if v := attr(doc, sel, "content"); v != "" {
			out.Title = v
			break
		}
	}
	if out.Title == "" {
		out.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	for _, sel := range imageSelectors {
		if v := attr(doc, sel, "content"); v != "" {
			out.Image = v
			break
		}
	}
	if out.Image == "" {
		out.Image = attr(doc, `link[rel="image_src"]`, "href")
	}
	out.Image = absolute(pageURL, out.Image)
	return out, nil
}

func attr(doc *goquery.Document, selector, name string) string {
	var found string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr(name); ok {
			if v = strings.TrimSpace(v); v != "" {
				found = v
				return false
			}
		}
		return true
	})
	return found
}

func absolute(base, ref string) string {
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
