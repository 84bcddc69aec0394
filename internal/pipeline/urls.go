package pipeline

import (
	"net/url"
	"strings"
)

// ValidHTTPURL trims raw and reports whether it is an absolute http(s) URL.
func ValidHTTPURL(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", false
	}
	return trimmed, true
}

// FilterHTTPURLs keeps valid URLs in their original order, dropping
// duplicates and anything ValidHTTPURL rejects.
func FilterHTTPURLs(raw []string) (valid []string, dropped int) {
	seen := make(map[string]struct{}, len(raw))
	for _, candidate := range raw {
		u, ok := ValidHTTPURL(candidate)
		if !ok {
			dropped++
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		valid = append(valid, u)
	}
	return valid, dropped
}
