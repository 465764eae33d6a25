// Package fetcher retrieves the upstream agent page over HTTP, with an
// optional headless Chrome fallback for when plain requests get challenged.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// MaxBodySize caps how much of a response is read (10MB).
const MaxBodySize = 10 * 1024 * 1024

// FetchResult contains the fetched HTML and metadata.
type FetchResult struct {
	HTML        string
	FinalURL    string // URL after following redirects
	StatusCode  int
	UsedBrowser bool
	FetchTime   time.Duration
}

// Options configures the fetcher behavior.
type Options struct {
	UserAgent       string
	TimeoutSeconds  int
	BrowserFallback bool   // retry blocked or failed fetches with headless Chrome
	ChromePath      string // Path to Chrome binary (empty = auto-detect)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		TimeoutSeconds: 30,
	}
}

// Fetcher fetches pages with a fixed set of options. It is safe for
// concurrent use.
type Fetcher struct {
	opts   Options
	client *http.Client
}

// New returns a Fetcher. Zero fields in o fall back to DefaultOptions.
func New(o Options) *Fetcher {
	d := DefaultOptions()
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = d.TimeoutSeconds
	}
	return &Fetcher{
		opts:   o,
		client: &http.Client{Timeout: time.Duration(o.TimeoutSeconds) * time.Second},
	}
}

// Options returns the effective options.
func (f *Fetcher) Options() Options {
	return f.opts
}

// Timeout returns the configured timeout duration.
func (f *Fetcher) Timeout() time.Duration {
	return time.Duration(f.opts.TimeoutSeconds) * time.Second
}

// CacheBust appends a _cb query parameter holding now in unix milliseconds so
// intermediaries cannot serve a stored copy.
func CacheBust(rawURL string, now time.Time) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("_cb", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// Simple fetches a URL using standard HTTP. Non-2xx responses are errors.
func (f *Fetcher) Simple(ctx context.Context, targetURL string) (*FetchResult, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", targetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxBodySize)
	}

	return &FetchResult{
		HTML:       string(body),
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		FetchTime:  time.Since(start),
	}, nil
}

// StatusError reports an upstream response outside the 2xx range.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, StatusText(e.Code, e.Status))
}

// StatusText strips the leading code from a response status line.
func StatusText(code int, status string) string {
	return strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
}

// ProbeResult is the outcome of a diagnostic request.
type ProbeResult struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       string // empty for HEAD
	Elapsed    time.Duration
}

// Probe sends one request with method and reports what came back. Unlike
// Simple, any status code is a result rather than an error.
func (f *Fetcher) Probe(ctx context.Context, method, targetURL string) (*ProbeResult, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, targetURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &ProbeResult{
		StatusCode: resp.StatusCode,
		Status:     StatusText(resp.StatusCode, resp.Status),
		Header:     resp.Header,
		Body:       string(body),
		Elapsed:    time.Since(start),
	}, nil
}

// stealthScript masks the most common headless Chrome tells.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {
    get: () => undefined,
});

window.chrome = {
    runtime: {},
    loadTimes: function() {},
    csi: function() {},
    app: {},
};

Object.defineProperty(navigator, 'languages', {
    get: () => ['en-AU', 'en'],
});
`

// WithBrowser fetches a URL using headless Chrome so server-side challenges
// that need JavaScript can complete.
func (f *Fetcher) WithBrowser(ctx context.Context, targetURL string) (*FetchResult, error) {
	start := time.Now()

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.opts.UserAgent),
		chromedp.WindowSize(1366, 900),
	}
	if f.opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(f.opts.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()

	// browser fetches get extra time
	timeout := f.Timeout() + 15*time.Second
	browserCtx, cancel := context.WithTimeout(allocCtx, timeout)
	defer cancel()

	browserCtx, cancel = chromedp.NewContext(browserCtx)
	defer cancel()

	var html string
	var finalURL string
	err := chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		network.SetExtraHTTPHeaders(network.Headers(map[string]interface{}{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-AU,en;q=0.9",
			"Cache-Control":   "no-cache",
		})),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// ASP.NET pages sometimes postback once before the list renders
		chromedp.Sleep(2*time.Second),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var title string
			if err := chromedp.Title(&title).Do(ctx); err != nil {
				return nil
			}
			if title == "Just a moment..." {
				return chromedp.Sleep(5 * time.Second).Do(ctx)
			}
			return nil
		}),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return nil, fmt.Errorf("browser fetch: %w", err)
	}

	return &FetchResult{
		HTML:        html,
		FinalURL:    finalURL,
		StatusCode:  http.StatusOK,
		UsedBrowser: true,
		FetchTime:   time.Since(start),
	}, nil
}

// IsBlockedResponse checks if the HTML indicates a blocked/challenged page.
func IsBlockedResponse(html string) (bool, string) {
	switch {
	case strings.Contains(html, "Just a moment..."),
		strings.Contains(html, "Checking your browser"),
		strings.Contains(html, "cf-browser-verification"):
		return true, "Cloudflare challenge"
	case strings.Contains(html, "recaptcha") && len(html) < 10000:
		return true, "reCAPTCHA challenge"
	case strings.Contains(html, "captcha-delivery.com"):
		return true, "DataDome bot protection"
	case strings.Contains(html, "Request unsuccessful. Incapsula"):
		return true, "Incapsula bot protection"
	case strings.Contains(html, "akam/") && len(html) < 5000:
		return true, "Akamai bot protection"
	}
	return false, ""
}

// Smart fetches with plain HTTP first. When that fails or returns a challenge
// page and BrowserFallback is enabled, it retries with headless Chrome.
func (f *Fetcher) Smart(ctx context.Context, targetURL string) (*FetchResult, error) {
	result, err := f.Simple(ctx, targetURL)
	if err == nil {
		blocked, reason := IsBlockedResponse(result.HTML)
		if !blocked {
			return result, nil
		}
		err = fmt.Errorf("blocked: %s", reason)
	}
	if !f.opts.BrowserFallback {
		return nil, err
	}

	browserResult, browserErr := f.WithBrowser(ctx, targetURL)
	if browserErr != nil {
		return nil, errors.Join(err, browserErr)
	}
	if blocked, reason := IsBlockedResponse(browserResult.HTML); blocked {
		return nil, fmt.Errorf("blocked: %s", reason)
	}
	return browserResult, nil
}
