// Package scrape wraps the headless-browser microservice call and
// normalizes its per-URL result into the fixed Result/Document shape.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

// maxPartialDocs bounds how many partial documents onProgress retains.
const maxPartialDocs = 50

// Request is the input to RunWebScraper.
type Request struct {
	URL            string
	Mode           model.JobMode
	CrawlerOptions map[string]any
	PageOptions    map[string]any
	TeamID         string
	JobID          string
	CrawlID        string
	Priority       int
	IsScrape       bool
	OnProgress     func(model.Progress)
}

// browserRequest is the outbound shape to the browser microservice.
type browserRequest struct {
	URL           string            `json:"url"`
	WaitAfterLoad int               `json:"wait_after_load,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// browserResponse accepts either of the two documented response shapes.
type browserResponse struct {
	Content       string `json:"content"`
	PageStatusCode int   `json:"pageStatusCode"`
	PageError     string `json:"pageError"`

	HTML   string `json:"html"`
	Status int    `json:"status"`
	Error  string `json:"error"`
}

func (r browserResponse) html() string {
	if r.Content != "" {
		return r.Content
	}
	return r.HTML
}

func (r browserResponse) errMsg() string {
	if r.PageError != "" {
		return r.PageError
	}
	return r.Error
}

// Orchestrator calls the browser microservice for each seed URL and
// assembles the normalized Result.
type Orchestrator struct {
	httpClient *http.Client
	cfg        infraconfig.BrowserConfig
	log        logger.Logger
	tokenFunc  func(ctx context.Context) (string, error)
	limiter    *rate.Limiter
}

// New builds an Orchestrator posting to cfg.URL. Calls to the browser
// microservice are throttled to cfg.RequestsPerSecond so a burst of
// concurrently admitted worker handlers cannot overwhelm it.
func New(cfg infraconfig.BrowserConfig, log logger.Logger) *Orchestrator {
	o := &Orchestrator{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
	}
	if cfg.UseIdentityToken {
		o.tokenFunc = fetchIdentityToken
	}
	return o
}

// fetchIdentityToken obtains a Google-signed identity token from the
// ambient credentials (instance metadata in production, gcloud's local
// application-default credentials otherwise).
func fetchIdentityToken(ctx context.Context) (string, error) {
	creds, err := google.FindDefaultCredentials(ctx)
	if err != nil {
		return "", fmt.Errorf("find default credentials: %w", err)
	}
	tok, err := creds.TokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("fetch identity token: %w", err)
	}
	return tok.AccessToken, nil
}

// seedURLs splits req.URL per mode: crawl mode supplies a single seed,
// single_urls mode splits on commas.
func seedURLs(req Request) []string {
	if req.Mode == model.ModeCrawl {
		return []string{req.URL}
	}
	urls := strings.Split(req.URL, ",")
	for i := range urls {
		urls[i] = strings.TrimSpace(urls[i])
	}
	return urls
}

// RunWebScraper fetches every seed URL via the browser microservice,
// retrying transient network errors, and returns the normalized result.
// Any provider error is both returned as {success:false} and reported
// through onError semantics at the caller (the worker loop moves the job
// to failed).
func (o *Orchestrator) RunWebScraper(ctx context.Context, req Request) model.Result {
	urls := seedURLs(req)
	docs := make([]model.Document, 0, len(urls))
	partial := 0

	for _, u := range urls {
		doc, err := o.fetchOne(ctx, u, req.PageOptions)
		if err != nil {
			return model.Result{Success: false, Message: err.Error(), Docs: nil}
		}
		docs = append(docs, doc)

		if req.OnProgress != nil && partial < maxPartialDocs {
			req.OnProgress(model.Progress{Current: len(docs), Total: len(urls), Step: "SCRAPING", URL: u})
			partial++
		}
	}

	return model.Result{Success: true, Docs: docs}
}

// fetchOne performs one HTTP call to the browser microservice with a fixed
// small retry budget for transient network errors.
func (o *Orchestrator) fetchOne(ctx context.Context, url string, pageOptions map[string]any) (model.Document, error) {
	const maxAttempts = 3
	const retryGap = time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		doc, err := o.doFetch(ctx, url, pageOptions)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return model.Document{}, ctx.Err()
			case <-time.After(retryGap):
			}
		}
	}
	return model.Document{}, lastErr
}

func (o *Orchestrator) doFetch(ctx context.Context, url string, pageOptions map[string]any) (model.Document, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return model.Document{}, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	body := browserRequest{URL: url}
	if wait, ok := pageOptions["waitFor"].(int); ok {
		body.WaitAfterLoad = wait
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return model.Document{}, fmt.Errorf("marshal browser request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return model.Document{}, fmt.Errorf("build browser request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if o.tokenFunc != nil {
		tok, err := o.tokenFunc(ctx)
		if err == nil && tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return model.Document{}, fmt.Errorf("call browser service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Document{}, fmt.Errorf("read browser response: %w", err)
	}

	var br browserResponse
	if err := json.Unmarshal(respBody, &br); err != nil {
		return model.Document{}, fmt.Errorf("decode browser response: %w", err)
	}
	if br.errMsg() != "" {
		return model.Document{}, fmt.Errorf("browser service: %s", br.errMsg())
	}

	dropRaw, _ := pageOptions["onlyIncludeTags"].(bool)
	doc := model.Document{
		URL:     url,
		Content: br.html(),
		Metadata: map[string]any{
			"sourceURL": url,
		},
	}
	if !dropRaw {
		doc.RawHTML = br.html()
	}
	return doc, nil
}
