package testutil

import (
	"bytes"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

// ParseHTML loads a rendered page or htmx fragment for selector assertions.
// Fragments parse too; goquery wraps them in an implicit html/body.
func ParseHTML(t testing.TB, body []byte) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html fragment (%d bytes): %v", len(body), err)
	}
	return doc
}
