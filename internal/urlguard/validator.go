// Package urlguard keeps outbound requests away from private and reserved networks.
package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// SsrfError reports a URL that fails the safety policy.
type SsrfError struct {
	URL    string
	Reason string
}

func (e *SsrfError) Error() string {
	return fmt.Sprintf("unsafe url %q: %s", e.URL, e.Reason)
}

// Resolution is the outcome of a successful validation. Addrs holds every
// checked address for Host in resolver order and is empty when the host
// could not be resolved and validation failed open.
type Resolution struct {
	Host  string
	Addrs []netip.Addr
}

// Pinned reports whether the fetch should connect to Addrs instead of resolving Host again.
func (r Resolution) Pinned() bool {
	return r.Host != "" && len(r.Addrs) > 0
}

var defaultBlockedRanges = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

// DefaultBlockedRanges returns the loopback, private, link-local, multicast and reserved ranges.
func DefaultBlockedRanges() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(defaultBlockedRanges))
	for _, cidr := range defaultBlockedRanges {
		out = append(out, netip.MustParsePrefix(cidr))
	}
	return out
}

// Validator checks URLs before any network call is made.
type Validator struct {
	resolver Resolver
	blocked  []netip.Prefix
}

// Option customizes a Validator.
type Option func(*Validator)

// WithResolver swaps the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(v *Validator) {
		if r != nil {
			v.resolver = r
		}
	}
}

// WithBlockedRanges replaces the blocked ranges.
func WithBlockedRanges(prefixes []netip.Prefix) Option {
	return func(v *Validator) {
		v.blocked = append([]netip.Prefix(nil), prefixes...)
	}
}

// ParseRanges parses CIDR strings into prefixes.
func ParseRanges(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("parse blocked range %q: %w", cidr, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// New builds a Validator using net.DefaultResolver and the default ranges.
func New(opts ...Option) *Validator {
	v := &Validator{
		resolver: net.DefaultResolver,
		blocked:  DefaultBlockedRanges(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns a *SsrfError when rawURL must not be fetched.
// Hosts that fail to resolve pass; the returned Resolution is then unpinned.
func (v *Validator) Validate(ctx context.Context, rawURL string) (Resolution, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Resolution{}, &SsrfError{URL: rawURL, Reason: "unparsable url"}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Resolution{}, &SsrfError{URL: rawURL, Reason: fmt.Sprintf("scheme %q not allowed", u.Scheme)}
	}
	host := u.Hostname()
	if host == "" {
		return Resolution{}, &SsrfError{URL: rawURL, Reason: "missing host"}
	}

	if addr, ok := parseLiteral(host); ok {
		if prefix, blocked := v.Blocked(addr); blocked {
			return Resolution{}, blockedError(rawURL, addr, prefix)
		}
		return Resolution{Host: host, Addrs: []netip.Addr{addr}}, nil
	}

	addrs, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return Resolution{Host: host}, nil
	}
	pinned := make([]netip.Addr, 0, len(addrs))
	for _, addr := range addrs {
		if prefix, blocked := v.Blocked(addr); blocked {
			return Resolution{}, blockedError(rawURL, addr, prefix)
		}
		pinned = append(pinned, addr.Unmap())
	}
	return Resolution{Host: host, Addrs: pinned}, nil
}

// Blocked reports whether addr falls inside a blocked range and which one.
func (v *Validator) Blocked(addr netip.Addr) (netip.Prefix, bool) {
	addr = addr.WithZone("").Unmap()
	for _, prefix := range v.blocked {
		if prefix.Contains(addr) {
			return prefix, true
		}
	}
	return netip.Prefix{}, false
}

func parseLiteral(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}

func blockedError(rawURL string, addr netip.Addr, prefix netip.Prefix) *SsrfError {
	return &SsrfError{
		URL:    rawURL,
		Reason: fmt.Sprintf("address %s is in blocked range %s", addr.Unmap(), prefix),
	}
}
