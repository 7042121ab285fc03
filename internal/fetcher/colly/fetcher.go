// Package collyfetcher fetches backlink source pages using gocolly over a guarded dialer.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/backlink-monitor/internal/urlguard"
)

// DefaultUserAgent identifies the monitor to the sites it checks.
const DefaultUserAgent = "BacklinkMonitor/1.0 (+https://github.com/JakeFAU/backlink-monitor)"

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Response is a completed fetch. Non-2xx statuses are still responses.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// FetchError is a transport-level failure: timeout, refused connection, DNS failure
// or a dial blocked by the URL safety policy.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Blocked reports whether the dial was refused by the URL safety policy.
func (e *FetchError) Blocked() bool {
	var ssrf *urlguard.SsrfError
	return errors.As(e.Err, &ssrf)
}

// Fetcher performs bounded GETs against validated URLs.
type Fetcher struct {
	cfg   Config
	guard *urlguard.Validator
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher whose connections go through guard.
func New(cfg Config, guard *urlguard.Validator) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if guard == nil {
		guard = urlguard.New()
	}
	return &Fetcher{cfg: cfg, guard: guard}
}

// Fetch executes a single GET. The connection for pin.Host goes to pin.Addrs; any other
// host, including redirect targets, is resolved and checked inside the dialer.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, pin urlguard.Resolution) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	transport := newHTTPTransport(f.guard.Dialer(pin))
	defer transport.CloseIdleConnections()

	collector := f.buildCollector(ctx, transport)
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return Response{}, &FetchError{URL: rawURL, Err: err}
	}
	return result, nil
}

// buildCollector returns a fresh collector per fetch: clones share their HTTP
// backend, so a pinned transport cannot be set on one safely.
func (f *Fetcher) buildCollector(ctx context.Context, transport http.RoundTripper) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.UserAgent(f.cfg.UserAgent),
		colly.ParseHTTPErrorResponse(),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(f.cfg.MaxBodySize),
		colly.StdlibContext(ctx),
	)
	collector.WithTransport(transport)
	collector.DisableCookies()
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport(dialer *urlguard.Dialer) *http.Transport {
	return &http.Transport{
		// No proxy: a proxy would make the pinned dial meaningless.
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}
}
