package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL("HTTPS://GRQASER.org:443/books?page=1#top")
	require.NoError(t, err)
	assert.Equal(t, "https://grqaser.org/books?page=1", got)

	_, err = NormalizeURL("ftp://grqaser.org/file")
	require.ErrorIs(t, err, ErrInvalidURL)

	_, err = NormalizeURL("/books/12")
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	got, err := ResolveURL("https://grqaser.org/books?page=1", "/books/42#reviews")
	require.NoError(t, err)
	assert.Equal(t, "https://grqaser.org/books/42", got)

	got, err = ResolveURL("https://grqaser.org/books", "https://media.grqaser.org/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://media.grqaser.org/a.mp3", got)

	_, err = ResolveURL("https://grqaser.org", "   ")
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestNextPageURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://grqaser.org/books":          "https://grqaser.org/books?page=2",
		"https://grqaser.org/books?page=3":   "https://grqaser.org/books?page=4",
		"https://grqaser.org/books?sort=new": "https://grqaser.org/books?sort=new&page=2",
		"https://grqaser.org/b?x=1&page=9":   "https://grqaser.org/b?x=1&page=10",
	}
	for in, want := range cases {
		assert.Equal(t, want, NextPageURL(in), in)
	}
}

func TestBookIDFromURL(t *testing.T) {
	t.Parallel()

	id, ok := BookIDFromURL("https://grqaser.org/books/123")
	require.True(t, ok)
	assert.Equal(t, "123", id)

	id, ok = BookIDFromURL("https://grqaser.org/books/77/")
	require.True(t, ok)
	assert.Equal(t, "77", id)

	_, ok = BookIDFromURL("https://grqaser.org/books/some-title")
	assert.False(t, ok)

	_, ok = BookIDFromURL("https://grqaser.org/category/12")
	assert.False(t, ok, "category ids are not book ids")

	_, ok = BookIDFromURL("https://grqaser.org/books?page=3")
	assert.False(t, ok)
}

func TestIsSiteBookID(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSiteBookID("123"))
	assert.False(t, IsSiteBookID(""))
	assert.False(t, IsSiteBookID("9b1deb4d-3b7d-5bad-9bdd-2b0d7b3dcb6d"))
}

func TestBookURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://grqaser.org/books/5", BookURL("https://grqaser.org/", "5"))
}
