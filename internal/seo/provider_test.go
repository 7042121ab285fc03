package seo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	p, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, ProviderNone, p.Name())

	p, err = New(Config{Provider: "HTTP", Endpoint: "https://seo.example.com/v1/domain"})
	require.NoError(t, err)
	require.Equal(t, ProviderHTTP, p.Name())

	_, err = New(Config{Provider: "http", Endpoint: "not a url"})
	require.Error(t, err)

	_, err = New(Config{Provider: "moz"})
	require.Error(t, err)
}

func TestNoneReturnsNothing(t *testing.T) {
	t.Parallel()

	m, err := None{}.DomainMetrics(context.Background(), "example.com")
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestHTTPProvider(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("domain") {
		case "blog.example.com":
			_, _ = w.Write([]byte(`{"domain_authority": 57}`))
		case "broken.example.com":
			_, _ = w.Write([]byte(`{"domain_authority": 400}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(Config{Endpoint: srv.URL + "/metrics", APIKey: "key-1"})
	require.NoError(t, err)
	ctx := context.Background()

	m, err := p.DomainMetrics(ctx, "blog.example.com")
	require.NoError(t, err)
	require.Equal(t, 57, m.DomainAuthority)

	m, err = p.DomainMetrics(ctx, "unknown.example.com")
	require.NoError(t, err)
	require.Nil(t, m)

	_, err = p.DomainMetrics(ctx, "broken.example.com")
	require.Error(t, err)

	unauth, err := NewHTTPProvider(Config{Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = unauth.DomainMetrics(ctx, "blog.example.com")
	require.ErrorContains(t, err, "HTTP 401")
}
