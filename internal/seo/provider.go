// Package seo looks up domain metrics used to enrich verified backlinks.
package seo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider names accepted in configuration.
const (
	ProviderNone = "none"
	ProviderHTTP = "http"
)

// Metrics holds what a provider knows about a domain.
type Metrics struct {
	DomainAuthority int `json:"domain_authority"`
}

// Provider returns metrics for a domain. A nil *Metrics with a nil error means no data.
type Provider interface {
	Name() string
	DomainMetrics(ctx context.Context, domain string) (*Metrics, error)
}

// Config selects and configures the provider.
type Config struct {
	Provider string        `mapstructure:"provider"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// New builds the configured provider once at startup.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderNone:
		return None{}, nil
	case ProviderHTTP:
		return NewHTTPProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown seo provider %q", cfg.Provider)
	}
}

// None never returns data.
type None struct{}

// Name implements Provider.
func (None) Name() string { return ProviderNone }

// DomainMetrics implements Provider.
func (None) DomainMetrics(context.Context, string) (*Metrics, error) { return nil, nil }

// HTTPProvider queries a JSON endpoint: GET <endpoint>?domain=<domain>
// answering {"domain_authority": n}. 404 means the domain is unknown.
type HTTPProvider struct {
	endpoint *url.URL
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider validates cfg and returns an HTTPProvider.
func NewHTTPProvider(cfg Config) (*HTTPProvider, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("seo endpoint %q must be an absolute http(s) url", cfg.Endpoint)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		endpoint: u,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return ProviderHTTP }

// DomainMetrics implements Provider.
func (p *HTTPProvider) DomainMetrics(ctx context.Context, domain string) (*Metrics, error) {
	u := *p.endpoint
	q := u.Query()
	q.Set("domain", domain)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build seo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("seo request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("seo provider returned HTTP %d", resp.StatusCode)
	}
	var m Metrics
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode seo response: %w", err)
	}
	if m.DomainAuthority < 0 || m.DomainAuthority > 100 {
		return nil, fmt.Errorf("domain authority %d out of range", m.DomainAuthority)
	}
	return &m, nil
}
