// Package checker verifies a single backlink against its live source page.
package checker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	collyfetcher "github.com/JakeFAU/backlink-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/backlink-monitor/internal/linkmatch"
	"github.com/JakeFAU/backlink-monitor/internal/metrics"
	"github.com/JakeFAU/backlink-monitor/internal/urlguard"
)

// Messages recorded on failed checks.
const (
	MessageLinkNotFound = "link not found in page"
	blockedPrefix       = "blocked by URL safety policy: "
)

// Check outcomes reported to metrics.
const (
	OutcomePresent    = "present"
	OutcomeMissing    = "missing"
	OutcomeHTTPError  = "http_error"
	OutcomeFetchError = "fetch_error"
	OutcomeBlocked    = "blocked"
)

// Validator rejects unsafe URLs before any network call.
type Validator interface {
	Validate(ctx context.Context, rawURL string) (urlguard.Resolution, error)
}

// Fetcher retrieves a source page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, pin urlguard.Resolution) (collyfetcher.Response, error)
}

// Limiter throttles requests per source host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Checker runs validate, throttle, fetch and match for one backlink.
type Checker struct {
	validator Validator
	fetcher   Fetcher
	limiter   Limiter
	logger    *zap.Logger
}

// New constructs a Checker. limiter may be nil.
func New(validator Validator, fetcher Fetcher, limiter Limiter, logger *zap.Logger) *Checker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		validator: validator,
		fetcher:   fetcher,
		limiter:   limiter,
		logger:    logger,
	}
}

// Check never returns an error: every expected failure is described by the result.
func (c *Checker) Check(ctx context.Context, b backlink.Backlink) backlink.CheckResult {
	return c.CheckURL(ctx, b.SourceURL, b.TargetURL)
}

// CheckURL verifies that sourceURL links to targetURL.
func (c *Checker) CheckURL(ctx context.Context, sourceURL, targetURL string) backlink.CheckResult {
	logger := c.logger.With(zap.String("url", sourceURL))

	pin, err := c.validator.Validate(ctx, sourceURL)
	if err != nil {
		metrics.ObserveSSRFBlock("validate")
		metrics.ObserveCheck(OutcomeBlocked, 0)
		logger.Warn("source url rejected", zap.Error(err))
		return failure(blockedMessage(err), nil, false)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, sourceURL); err != nil {
			metrics.ObserveCheck(OutcomeFetchError, 0)
			return failure(err.Error(), nil, true)
		}
	}

	resp, err := c.fetcher.Fetch(ctx, sourceURL, pin)
	if err != nil {
		var fetchErr *collyfetcher.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Blocked() {
			metrics.ObserveSSRFBlock("dial")
			metrics.ObserveCheck(OutcomeBlocked, 0)
			logger.Warn("source fetch blocked at dial time", zap.Error(err))
			return failure(blockedMessage(err), nil, false)
		}
		metrics.ObserveCheck(OutcomeFetchError, 0)
		logger.Info("source fetch failed", zap.Error(err))
		return failure(err.Error(), nil, true)
	}

	status := resp.StatusCode
	if status < 200 || status > 299 {
		metrics.ObserveCheck(OutcomeHTTPError, resp.Duration)
		result := failure(fmt.Sprintf("HTTP %d - page not accessible", status), &status, false)
		result.Body = resp.Body
		return result
	}

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = sourceURL
	}
	info := linkmatch.FindOnPage(string(resp.Body), pageURL, targetURL)
	if info == nil {
		metrics.ObserveCheck(OutcomeMissing, resp.Duration)
		result := failure(MessageLinkNotFound, &status, false)
		result.Body = resp.Body
		return result
	}

	metrics.ObserveCheck(OutcomePresent, resp.Duration)
	return backlink.CheckResult{
		IsPresent:     true,
		HTTPStatus:    &status,
		AnchorText:    info.AnchorText,
		RelAttributes: info.RelAttributes,
		IsDofollow:    info.IsDofollow,
		Body:          resp.Body,
	}
}

func failure(message string, status *int, retryable bool) backlink.CheckResult {
	return backlink.CheckResult{
		IsPresent:    false,
		HTTPStatus:   status,
		ErrorMessage: &message,
		Retryable:    retryable,
	}
}

func blockedMessage(err error) string {
	var ssrf *urlguard.SsrfError
	if errors.As(err, &ssrf) {
		return blockedPrefix + ssrf.Reason
	}
	return blockedPrefix + err.Error()
}
