package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	cases := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"empty body", 200, "  \n", true},
		{"next mount point", 200, `<div id="__next"></div>`, true},
		{"empty react root", 200, `<html><body><div id="root"></div></body></html>`, true},
		{"script heavy", 200, `<html><script>var a=1;</script><p>t</p></html>`, true},
		{"unterminated script", 200, `<p>x</p><script>var a=`, true},
		{"rendered listing", 200, `<html><body><div class="book-item"><h3>Սամվել</h3></div></body></html>`, false},
		{"not found", 404, "", false},
		{"server error", 502, `<div id="__next"></div>`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, h.ShouldPromote(tc.status, []byte(tc.body)))
		})
	}
}

func TestHeuristicIgnoresScriptsInLargePages(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	body := "<script>" + strings.Repeat("x", 200) + "</script>" + strings.Repeat("<p>text</p>", 10)
	assert.False(t, h.ShouldPromote(200, []byte(body)))
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2048, NewHeuristic(0).BodyLengthThreshold)
}

func TestScriptShare(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, scriptShare(nil))
	assert.Equal(t, 0, scriptShare([]byte("<p>plain</p>")))
	assert.Equal(t, 100, scriptShare([]byte("<SCRIPT>x</SCRIPT>")))
}
