// Package linkmatch finds a target link in arbitrary HTML and describes it.
package linkmatch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoHost is returned for URLs that cannot identify a page on their own.
var ErrNoHost = errors.New("url has no host")

// Normalize canonicalizes a URL for comparison. Scheme and host are lower-cased,
// an empty path becomes "/", trailing slashes are dropped except on the root,
// the query is kept verbatim (a bare "?" included) and fragment and userinfo are removed.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("normalize %q: %w", raw, ErrNoHost)
	}

	path := u.EscapedPath()
	if trimmed := strings.TrimRight(path, "/"); trimmed == "" {
		path = "/"
	} else {
		path = trimmed
	}

	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(strings.ToLower(u.Scheme))
		b.WriteString(":")
	}
	b.WriteString("//")
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(path)
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}

// Equivalent reports whether a and b point at the same page, ignoring the
// scheme and a leading "www." on either host.
func Equivalent(a, b string) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return equivalentNormalized(na, nb)
}

func equivalentNormalized(na, nb string) bool {
	sa, sb := stripScheme(na), stripScheme(nb)
	if sa == sb {
		return true
	}
	return strings.TrimPrefix(sa, "www.") == strings.TrimPrefix(sb, "www.")
}

func stripScheme(normalized string) string {
	if i := strings.Index(normalized, "//"); i >= 0 {
		return normalized[i+2:]
	}
	return normalized
}
