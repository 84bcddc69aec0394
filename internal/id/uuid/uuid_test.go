// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if _, err := goUUID.Parse(id1); err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
}

// TestGeneratorBookIDDeterministic checks fallback ids are stable per URL.
func TestGeneratorBookIDDeterministic(t *testing.T) {
	t.Parallel()

	gen := New()
	a := gen.BookID("https://grqaser.org/books/some-title")
	b := gen.BookID("https://grqaser.org/books/some-title")
	c := gen.BookID("https://grqaser.org/books/other-title")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected distinct ids for distinct urls, got %s", a)
	}
	parsed, err := goUUID.Parse(a)
	if err != nil {
		t.Fatalf("book id not valid UUID: %v", err)
	}
	if parsed.Version() != 5 {
		t.Fatalf("expected version 5 uuid, got %d", parsed.Version())
	}
}
