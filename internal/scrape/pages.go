package scrape

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// contactPaths are probed in order after the homepage; the first page that
// scrapes cleanly wins.
var contactPaths = []string{"/contact", "/contact-us", "/about", "/about-us"}

// SiteContent holds the scraped pages for one contractor website.
type SiteContent struct {
	Home    *Result
	Contact *Result // nil when no contact-style page resolved
}

// FetchSite scrapes a contractor's homepage and, best effort, one
// contact-style page. Homepage failure is terminal; contact page probing
// never is.
func FetchSite(ctx context.Context, s Scraper, website string) (*SiteContent, error) {
	base := strings.TrimRight(website, "/")

	home, err := s.Scrape(ctx, base)
	if err != nil {
		return nil, err
	}
	site := &SiteContent{Home: home}

	for _, p := range contactPaths {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Scrape(ctx, base+p)
		if err != nil {
			zap.L().Debug("scrape: contact page probe failed",
				zap.String("url", base+p),
				zap.Error(err),
			)
			continue
		}
		site.Contact = res
		break
	}
	return site, nil
}

// Combined returns homepage and contact page content joined, truncated to
// maxChars.
func (sc *SiteContent) Combined(maxChars int) string {
	var b strings.Builder
	b.WriteString(sc.Home.Content)
	if sc.Contact != nil {
		b.WriteString("\n\n---\n\n")
		b.WriteString(sc.Contact.Content)
	}
	out := b.String()
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}
