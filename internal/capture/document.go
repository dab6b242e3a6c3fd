package capture

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	bracketSegment = regexp.MustCompile(`\[[^\]]*\]`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// CleanTitle drops bracketed status annotations such as "[2504.12345]"
// and collapses whitespace.
func CleanTitle(title string) string {
	title = bracketSegment.ReplaceAllString(title, " ")
	return strings.TrimSpace(spaceRun.ReplaceAllString(title, " "))
}

// Page is what navigation resolves to.
type Page struct {
	Title string
	URL   string
}

// Document is a parsed snapshot of the rendered page. It is owned by one
// pipeline run and mutated in place by the inliner.
type Document struct {
	Tree    *goquery.Document
	BaseURL *url.URL
	Title   string
}

// Parse builds a Document from serialized HTML.
func Parse(html, baseURL, title string) (*Document, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	tree, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{Tree: tree, BaseURL: base, Title: title}, nil
}

// HTML serializes the current tree.
func (d *Document) HTML() (string, error) {
	out, err := d.Tree.Html()
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return out, nil
}
