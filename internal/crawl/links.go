package crawl

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks parses rawHTML and returns every http(s) anchor href, on any
// host, resolved against sourceURL and de-duplicated in document order.
// It satisfies the LinkExtractor signature and is the default extractor
// wired into the worker loop's crawl fan-out.
func ExtractLinks(rawHTML, sourceURL string) []string {
	if rawHTML == "" {
		return nil
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""

		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		link := resolved.String()
		if seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})

	return links
}
