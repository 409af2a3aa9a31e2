package scrape

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

func testConfig(url string) infraconfig.BrowserConfig {
	cfg := infraconfig.BrowserConfig{URL: url}
	cfg.SetDefaults()
	cfg.RequestsPerSecond = 1000 // keep the limiter out of the way for most tests
	return cfg
}

func TestRunWebScraper_SingleURLsSplitsOnComma(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"<p>hi</p>","pageStatusCode":200}`))
	}))
	defer srv.Close()

	o := New(testConfig(srv.URL), nil)
	result := o.RunWebScraper(t.Context(), Request{
		URL:  "https://a.example, https://b.example",
		Mode: model.ModeSingleURLs,
	})

	require.True(t, result.Success)
	require.Len(t, result.Docs, 2)
	assert.Equal(t, "https://a.example", result.Docs[0].URL)
	assert.Equal(t, "https://b.example", result.Docs[1].URL)
}

func TestRunWebScraper_CrawlModeUsesSingleSeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"html":"<p>hi</p>","status":200}`))
	}))
	defer srv.Close()

	o := New(testConfig(srv.URL), nil)
	result := o.RunWebScraper(t.Context(), Request{URL: "https://a.example,https://b.example", Mode: model.ModeCrawl})

	require.True(t, result.Success)
	require.Len(t, result.Docs, 1)
	assert.Equal(t, "https://a.example,https://b.example", result.Docs[0].URL)
}

func TestRunWebScraper_BrowserErrorFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pageError":"navigation timeout"}`))
	}))
	defer srv.Close()

	o := New(testConfig(srv.URL), nil)
	result := o.RunWebScraper(t.Context(), Request{URL: "https://a.example", Mode: model.ModeCrawl})

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "navigation timeout")
}

func TestRunWebScraper_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`not json`))
			return
		}
		w.Write([]byte(`{"content":"<p>hi</p>"}`))
	}))
	defer srv.Close()

	o := New(testConfig(srv.URL), nil)
	result := o.RunWebScraper(t.Context(), Request{URL: "https://a.example", Mode: model.ModeCrawl})

	require.True(t, result.Success)
	assert.Equal(t, 2, calls)
}

func TestDoFetch_RateLimiterBlocksBurst(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"<p>hi</p>"}`))
	}))
	defer srv.Close()

	cfg := infraconfig.BrowserConfig{URL: srv.URL, RequestsPerSecond: 1}
	cfg.SetDefaults()
	o := New(cfg, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := o.doFetch(t.Context(), srv.URL, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}
