// Package simple contains the site-scope fetch policy.
package simple

import (
	"fmt"
	"net/url"
	"strings"
)

// Policy allows fetches only to the crawled site's host and its www alias.
type Policy struct {
	hosts map[string]struct{}
}

// New creates a Policy rooted at baseURL. extraHosts widens the scope, e.g. to
// a media subdomain.
func New(baseURL string, extraHosts ...string) (*Policy, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("scope base url %q: missing host", baseURL)
	}
	p := &Policy{hosts: make(map[string]struct{})}
	for _, h := range append([]string{u.Hostname()}, extraHosts...) {
		h = strings.TrimPrefix(strings.ToLower(h), "www.")
		if h != "" {
			p.hosts[h] = struct{}{}
		}
	}
	return p, nil
}

// AllowFetch reports whether rawURL is on an in-scope host.
func (p *Policy) AllowFetch(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	_, ok := p.hosts[host]
	return ok
}
