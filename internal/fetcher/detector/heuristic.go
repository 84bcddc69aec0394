// Package detector decides when a statically fetched page is only a
// JavaScript shell and must be rendered before extraction.
package detector

import (
	"bytes"
	"net/http"
)

const defaultBodyThreshold = 2048

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
}

// Heuristic promotes pages that are empty, mostly script, or carry a known
// single-page-app mount point with nothing rendered into it.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold uses 2 KiB.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote decides whether a headless fetch is required. Only successful
// responses are candidates; error statuses are classified as they are.
func (h *Heuristic) ShouldPromote(statusCode int, body []byte) bool {
	if statusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < h.BodyLengthThreshold && scriptShare(body) >= 25
}

// scriptShare returns the percentage of body bytes inside <script> elements.
// An unterminated script runs to the end of the document.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		open := bytes.Index(lower[pos:], []byte("<script"))
		if open < 0 {
			break
		}
		start := pos + open
		closeIdx := bytes.Index(lower[start:], []byte("</script>"))
		end := total
		if closeIdx >= 0 {
			end = start + closeIdx + len("</script>")
		}
		covered += end - start
		pos = end
	}
	if total == 0 {
		return 0
	}
	return covered * 100 / total
}
