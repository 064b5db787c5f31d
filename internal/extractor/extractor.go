package extractor

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkExtractor is the abstract link-extraction capability consumed by the
// crawl loop. The scheduler treats it as a black box.
type LinkExtractor interface {
	ExtractLinks(body, baseURL string) []string
}

type HtmlLinkExtractor struct{}

func NewHtmlLinkExtractor() *HtmlLinkExtractor {
	return &HtmlLinkExtractor{}
}

func (e *HtmlLinkExtractor) ExtractLinks(body, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		slog.Debug("failed to parse base url.", slog.String("url", baseURL))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		slog.Debug("failed to parse html body.", slog.String("url", baseURL))
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})

	return links
}
