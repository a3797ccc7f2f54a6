// Package extract pulls the main article text out of an HTML page.
//
// The page is first cleaned with goquery (comments, tables, navigation and
// script elements are dropped), then go-readability picks the main content
// block. Repeated paragraphs are collapsed so boilerplate that survives
// extraction is only counted once.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// dropSelectors lists elements removed before readability runs.
var dropSelectors = strings.Join([]string{
	"script", "style", "noscript", "template", "iframe", "svg",
	"table", "nav", "aside", "form", "header", "footer",
}, ", ")

// Readability implements sheetsim.Extractor.
type Readability struct{}

// New returns a readability-backed extractor.
func New() *Readability {
	return &Readability{}
}

// Extract returns the deduplicated main text of page, or "" when nothing
// readable was found.
func (Readability) Extract(page []byte, pageURL string) (string, error) {
	cleaned, err := clean(page)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(cleaned), u)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return dedupe(article.TextContent), nil
}

func clean(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(dropSelectors).Remove()
	doc.Find("*").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#comment" {
			s.Remove()
		}
	})
	html, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return html, nil
}

// dedupe trims every line, drops blanks and repeats, and keeps first-seen order.
func dedupe(text string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
