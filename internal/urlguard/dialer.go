package urlguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Dialer connects only to addresses outside the blocked ranges.
// A pinned host is dialed at the addresses recorded during validation, in order; every
// other host is resolved once here and checked before connecting.
type Dialer struct {
	validator *Validator
	dialer    *net.Dialer
	pin       Resolution
}

// Dialer returns a guarded dialer pinned to res.
func (v *Validator) Dialer(res Resolution) *Dialer {
	return &Dialer{
		validator: v,
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		pin: res,
	}
}

// DialContext satisfies http.Transport.DialContext.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("split dial address: %w", err)
	}
	candidates, err := d.candidates(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range candidates {
		if prefix, blocked := d.validator.Blocked(addr); blocked {
			return nil, blockedError(address, addr, prefix)
		}
	}

	var errs []error
	for _, addr := range candidates {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (d *Dialer) candidates(ctx context.Context, host string) ([]netip.Addr, error) {
	if d.pin.Pinned() && host == d.pin.Host {
		return d.pin.Addrs, nil
	}
	if addr, ok := parseLiteral(host); ok {
		return []netip.Addr{addr}, nil
	}
	addrs, err := d.validator.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	return addrs, nil
}
