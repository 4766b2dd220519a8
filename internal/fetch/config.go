// Package fetch retrieves pages: a fast colly probe fetcher, a headless
// chromedp renderer for JS-only pages, and the heuristic that decides
// when to promote a probe to a render.
package fetch

import "time"

// Config controls the fetchers and the promotion heuristic.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	Concurrency    int

	// Headless rendering.
	HeadlessMaxConcurrency int
	HeadlessTimeout        time.Duration
	HeadlessDomainQPS      float64

	// Promotion heuristic.
	MinHTMLBytes int
	Selectors    []string
	Keywords     []string
}

// DefaultConfig returns the fetch defaults used when nothing is
// configured.
func DefaultConfig() Config {
	return Config{
		UserAgent:              "ragharvest/1.0",
		RequestTimeout:         30 * time.Second,
		Concurrency:            4,
		HeadlessMaxConcurrency: 2,
		HeadlessTimeout:        45 * time.Second,
		HeadlessDomainQPS:      0.5,
		MinHTMLBytes:           2048,
		Keywords:               []string{"enable javascript", "loading..."},
	}
}
