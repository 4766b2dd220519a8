// Package canonical normalizes URLs into a single canonical identity and
// derives the content fingerprints used for dedup.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during canonicalization.
// They never change page identity.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_content":  {},
	"utm_term":     {},
	"gclid":        {},
	"fbclid":       {},
}

// Canonicalize standardizes a raw URL so that equivalent spellings map to
// one identity. It lowercases the scheme and host, removes default ports,
// drops the fragment and tracking parameters, sorts the remaining query
// parameters, and trims the trailing slash except at the root.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	for param := range trackingParams {
		q.Del(param)
	}
	u.RawQuery = q.Encode() // Encode sorts keys

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// Domain returns the lowercase hostname of a canonical URL, or "" when
// the URL cannot be parsed.
func Domain(normalizedURL string) string {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Fingerprint hashes extracted text into a stable content identity.
// Whitespace runs are collapsed first so rendering differences in
// spacing do not defeat duplicate detection.
func Fingerprint(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Priority scores in the base path classification, highest first.
const (
	classAgenda       = 10
	classWorkingGroup = 9
	classEvent        = 8
	classPDF          = 7
	classNews         = 6
	classGeneric      = 5
)

// seedBoost lifts explicitly seeded URLs above any depth-derived score.
const seedBoost = 100

// Priority computes a frontier priority for a canonical URL. The score is
// a path-class base scaled so that it strictly dominates depth, then
// reduced per level of depth: shallower pages always sort first within a
// class. An explicit seed boost overrides the depth penalty.
func Priority(normalizedURL string, depth int, seed bool) int {
	p := classify(normalizedURL)*10 - depth
	if p < 0 {
		p = 0
	}
	if seed {
		p += seedBoost
	}
	return p
}

func classify(normalizedURL string) int {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return classGeneric
	}
	path := strings.ToLower(u.Path)
	switch {
	case strings.Contains(path, "agenda"):
		return classAgenda
	case strings.Contains(path, "working-group"):
		return classWorkingGroup
	case strings.Contains(path, "event"):
		return classEvent
	case strings.HasSuffix(path, ".pdf"):
		return classPDF
	case strings.Contains(path, "media"), strings.Contains(path, "news"),
		strings.Contains(path, "announcement"):
		return classNews
	default:
		return classGeneric
	}
}
