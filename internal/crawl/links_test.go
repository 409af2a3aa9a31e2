package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractLinks_ResolvesAndDedupes(t *testing.T) {
	t.Parallel()

	html := `
		<html><body>
			<a href="/about">About</a>
			<a href="https://example.com/about">About again</a>
			<a href="page?x=1">Query page</a>
			<a href="#section">Anchor only</a>
			<a href="javascript:void(0)">JS link</a>
			<a href="mailto:hi@example.com">Mail</a>
			<a>No href</a>
		</body></html>`

	links := ExtractLinks(html, "https://example.com/base/")

	assert.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/base/page?x=1",
	}, links)
}

func TestExtractLinks_StripsFragment(t *testing.T) {
	t.Parallel()

	html := `<a href="/docs#heading">Docs</a>`
	links := ExtractLinks(html, "https://example.com")

	assert.Equal(t, []string{"https://example.com/docs"}, links)
}

func TestExtractLinks_EmptyInput(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ExtractLinks("", "https://example.com"))
}

func TestExtractLinks_InvalidSourceURL(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ExtractLinks("<a href=\"/a\">a</a>", "://bad-url"))
}
