package extractor

import (
	"reflect"
	"testing"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	body := `<html><body>
		<a href="/about">About</a>
		<a href="https://other.com/page">Other</a>
		<a href="contact.html">Contact</a>
		<a href="/about">Duplicate</a>
		<a href="/about#team">Fragment duplicate</a>
		<a href="mailto:hello@example.com">Mail</a>
		<a href="javascript:void(0)">JS</a>
		<a href="#top">Anchor</a>
		<a href="">Empty</a>
	</body></html>`

	e := NewHtmlLinkExtractor()
	got := e.ExtractLinks(body, "https://example.com/dir/index.html")

	expected := []string{
		"https://example.com/about",
		"https://other.com/page",
		"https://example.com/dir/contact.html",
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("ExtractLinks() = %v, expected %v", got, expected)
	}
}

func TestExtractLinksNoAnchors(t *testing.T) {
	t.Parallel()

	e := NewHtmlLinkExtractor()
	if got := e.ExtractLinks("<html><body><p>plain text</p></body></html>", "https://example.com"); len(got) != 0 {
		t.Errorf("ExtractLinks() = %v, expected no links", got)
	}
}

func TestExtractLinksBadBaseURL(t *testing.T) {
	t.Parallel()

	e := NewHtmlLinkExtractor()
	if got := e.ExtractLinks(`<a href="/x">x</a>`, "://bad"); got != nil {
		t.Errorf("ExtractLinks() = %v, expected nil for an unparsable base url", got)
	}
}
