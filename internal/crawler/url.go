package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	pageParamPattern = regexp.MustCompile(`([?&])page=(\d+)`)
	numericIDPattern = regexp.MustCompile(`/books/(\d+)(?:/|$)`)
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments. Only absolute http(s) URLs are accepted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// ResolveURL resolves ref against base and normalizes the result.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrInvalidURL)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}
	return NormalizeURL(b.ResolveReference(r).String())
}

// NextPageURL derives the following listing page: an existing page=N becomes
// page=N+1, otherwise page=2 is appended.
func NextPageURL(current string) string {
	if m := pageParamPattern.FindStringSubmatchIndex(current); m != nil {
		n, err := strconv.Atoi(current[m[4]:m[5]])
		if err == nil {
			return current[:m[4]] + strconv.Itoa(n+1) + current[m[5]:]
		}
	}
	if strings.Contains(current, "?") {
		return current + "&page=2"
	}
	return current + "?page=2"
}

// BookIDFromURL extracts the numeric id of a /books/{id} path. Other numeric
// paths such as /category/12 are not book pages.
func BookIDFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	matches := numericIDPattern.FindAllStringSubmatch(u.Path, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

// IsSiteBookID reports whether id is a numeric site id that BookURL can
// address.
func IsSiteBookID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// BookURL builds the canonical detail URL for a numeric book id.
func BookURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/books/" + url.PathEscape(id)
}
