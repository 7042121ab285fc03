package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/metrics"
	"github.com/JakeFAU/backlink-monitor/internal/urlguard"
)

const (
	// UserAgent identifies webhook requests.
	UserAgent      = "BacklinkMonitor-Webhook/1.0"
	defaultTimeout = 10 * time.Second
)

// ErrNoEndpoint is returned when the subscriber has no webhook URL.
var ErrNoEndpoint = errors.New("subscriber has no webhook url")

// DeliveryError reports a failed POST. StatusCode is zero for transport failures.
type DeliveryError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook %s returned HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook %s: %v", e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Notifier posts signed payloads. Subscriber URLs go through the same SSRF guard as page fetches.
type Notifier struct {
	guard   *urlguard.Validator
	clock   backlink.Clock
	logger  *zap.Logger
	timeout time.Duration
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithTimeout overrides the 10s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithClock sets the clock stamping payloads.
func WithClock(c backlink.Clock) Option {
	return func(n *Notifier) {
		if c != nil {
			n.clock = c
		}
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New constructs a Notifier.
func New(guard *urlguard.Validator, logger *zap.Logger, opts ...Option) *Notifier {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		guard:   guard,
		clock:   utcClock{},
		logger:  logger,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Deliver posts one alert.created event. Callers check ShouldDeliver first.
func (n *Notifier) Deliver(ctx context.Context, a backlink.Alert, b *backlink.Backlink, sub backlink.Subscriber) error {
	body, err := BuildPayload(a, b, n.clock.Now())
	if err != nil {
		return err
	}
	err = n.post(ctx, sub, body)
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	metrics.ObserveWebhookDelivery(result)
	if err != nil {
		return err
	}
	n.logger.Info("webhook delivered",
		zap.String("alert_id", a.ID),
		zap.Int64("user_id", sub.UserID),
		zap.String("url", sub.WebhookURL),
	)
	return nil
}

// SendTest posts a webhook.test event so owners can check their endpoint.
func (n *Notifier) SendTest(ctx context.Context, sub backlink.Subscriber) error {
	body, err := buildTestPayload(n.clock.Now())
	if err != nil {
		return err
	}
	return n.post(ctx, sub, body)
}

func (n *Notifier) post(ctx context.Context, sub backlink.Subscriber, body []byte) error {
	if sub.WebhookURL == "" {
		return ErrNoEndpoint
	}
	res, err := n.guard.Validate(ctx, sub.WebhookURL)
	if err != nil {
		metrics.ObserveSSRFBlock("webhook")
		return &DeliveryError{URL: sub.WebhookURL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{URL: sub.WebhookURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(SignatureHeader, Sign(sub.WebhookSecret, body))

	resp, err := n.client(res).Do(req)
	if err != nil {
		return &DeliveryError{URL: sub.WebhookURL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{URL: sub.WebhookURL, StatusCode: resp.StatusCode}
	}
	return nil
}

func (n *Notifier) client(res urlguard.Resolution) *http.Client {
	return &http.Client{
		Timeout: n.timeout,
		Transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           n.guard.Dialer(res).DialContext,
			TLSHandshakeTimeout:   n.timeout,
			ResponseHeaderTimeout: n.timeout,
			DisableKeepAlives:     true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
