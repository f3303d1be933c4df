// Package origin performs single-shot HTTP fetches of module sources. The
// client never follows redirects on its own; each hop is surfaced to the
// caller so the redirect chain can be recorded in the source cache.
package origin

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/modrunner/sourcefetch/internal/cache"
)

// Kind discriminates the three fetch outcomes.
type Kind int

const (
	// Code means the terminal payload was fetched.
	Code Kind = iota
	// Redirect means the origin answered with a redirect; Result.Redirect
	// holds the resolved target.
	Redirect
	// NotModified means the origin honored the conditional request and the
	// cached copy is current.
	NotModified
)

// Result is the outcome of a single fetch.
type Result struct {
	Kind     Kind
	Body     []byte
	Headers  cache.Headers
	Redirect *url.URL
}

// Client fetches module sources from remote origins.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an origin client. If caFile is non-empty its PEM
// certificates are appended to the system roots for TLS verification.
func NewClient(caFile string) (*Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}

	if caFile != "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %q", caFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// FetchOnce performs one GET against u. If etag is non-empty the request is
// conditional and a 304 yields NotModified. Redirect responses are returned
// to the caller with the location header intact, not followed.
func (c *Client) FetchOnce(ctx context.Context, u *url.URL, etag string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", u, err)
	}
	defer resp.Body.Close()

	headers := cache.FromHTTP(resp.Header)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Result{Kind: NotModified, Headers: headers}, nil

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return nil, fmt.Errorf("fetching %q: redirect without location", u)
		}
		target, err := u.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("fetching %q: bad redirect location %q: %w", u, loc, err)
		}
		return &Result{Kind: Redirect, Headers: headers, Redirect: target}, nil

	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetching %q: %s", u, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body of %q: %w", u, err)
	}

	return &Result{Kind: Code, Body: body, Headers: headers}, nil
}
