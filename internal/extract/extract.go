// Package extract turns fetched HTML into the ordered heading-tagged
// blocks the chunker consumes, and discovers the in-scope links a page
// references.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ragharvest/internal/crawl"
)

// boilerplate holds elements stripped before text extraction.
const boilerplate = "script, style, noscript, nav, footer, aside, form, iframe"

// contentSelector matches the elements walked in document order. Heading
// elements maintain the heading path; the rest contribute text blocks.
const contentSelector = "h1, h2, h3, h4, h5, h6, p, li, td, blockquote, pre"

// Extractor implements crawl.Extractor. SameHostOnly restricts link
// discovery to the fetched page's host.
type Extractor struct {
	SameHostOnly bool
}

// New returns an Extractor that keeps link discovery on the page's host.
func New() *Extractor {
	return &Extractor{SameHostOnly: true}
}

// Extract parses the page body into a block document and collects the
// links it references. Blocks appear in document order; each carries the
// heading path active where its text starts.
func (e *Extractor) Extract(page crawl.Page) (crawl.Document, []crawl.Link, error) {
	base, err := url.Parse(pageURL(page))
	if err != nil {
		return crawl.Document{}, nil, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawl.Document{}, nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(boilerplate).Remove()

	out := crawl.Document{
		SourceID: base.String(),
		Metadata: map[string]string{"source_url": base.String()},
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		out.Metadata["title"] = title
	}

	var path headingPath
	doc.Find(contentSelector).Each(func(_ int, sel *goquery.Selection) {
		node := goquery.NodeName(sel)
		text := normalizeSpace(sel.Text())
		if level, ok := headingDepth(node); ok {
			path.enter(level, text)
			return
		}
		// Nested containers surface their text through the innermost
		// matching element; skip elements that contain another match.
		if sel.Find(contentSelector).Length() > 0 {
			return
		}
		if text == "" {
			return
		}
		out.Blocks = append(out.Blocks, crawl.Block{
			HeadingPath: path.current(),
			Text:        text,
		})
	})

	return out, e.links(doc, base), nil
}

// links resolves every anchor against the page URL, keeping http(s)
// targets and, when SameHostOnly is set, only the page's own host.
func (e *Extractor) links(doc *goquery.Document, base *url.URL) []crawl.Link {
	var links []crawl.Link
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if e.SameHostOnly && !strings.EqualFold(resolved.Hostname(), base.Hostname()) {
			return
		}
		resolved.Fragment = ""
		target := resolved.String()
		if target == base.String() {
			return
		}
		if _, ok := seen[target]; ok {
			return
		}
		seen[target] = struct{}{}
		links = append(links, crawl.Link{
			URL:  target,
			Text: normalizeSpace(sel.Text()),
		})
	})
	return links
}

// headingPath tracks the active heading titles by level, so a new h2
// closes any open h2-h6 context but keeps the enclosing h1.
type headingPath struct {
	levels []int
	titles []string
}

func (p *headingPath) enter(level int, title string) {
	for len(p.levels) > 0 && p.levels[len(p.levels)-1] >= level {
		p.levels = p.levels[:len(p.levels)-1]
		p.titles = p.titles[:len(p.titles)-1]
	}
	if title == "" {
		return
	}
	p.levels = append(p.levels, level)
	p.titles = append(p.titles, title)
}

func (p *headingPath) current() []string {
	if len(p.titles) == 0 {
		return nil
	}
	out := make([]string, len(p.titles))
	copy(out, p.titles)
	return out
}

func headingDepth(node string) (int, bool) {
	if len(node) == 2 && node[0] == 'h' && node[1] >= '1' && node[1] <= '6' {
		return int(node[1] - '0'), true
	}
	return 0, false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pageURL(page crawl.Page) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}
