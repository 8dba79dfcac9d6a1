// Package scrape fetches contractor web pages as markdown for contact
// extraction.
package scrape

import "context"

// Result holds a scraped page.
type Result struct {
	URL     string
	Title   string
	Content string
	Source  string // e.g. "jina"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
