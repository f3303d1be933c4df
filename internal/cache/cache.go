// Package cache persists downloaded module sources keyed by URL. Each entry
// is a content blob plus a sidecar document holding the origin's headers, so
// redirects can be recorded as header-only placeholder entries whose payload
// lives under the target URL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNotCached is returned by Store.Get when no entry exists for the URL.
var ErrNotCached = errors.New("not cached")

// Headers is the persisted header map for a cached URL. Keys are lowercased
// and unique. The fetcher interprets content-type, location, etag and
// x-typescript-types; other keys are stored but ignored.
type Headers map[string]string

// FromHTTP lowercases an http.Header into a Headers map, keeping the first
// value of each field.
func FromHTTP(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

// Store is the interface for module source cache backends.
//
// A Get that succeeds returns a reader over the content bytes and the header
// map; reading the headers never forces the full body to be loaded. Set
// overwrites both the content and the header map for the URL. An entry with
// empty content and a "location" header is a redirect placeholder, not a
// corrupt record.
type Store interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, u *url.URL) (io.ReadCloser, Headers, error)
	Set(ctx context.Context, u *url.URL, headers Headers, body []byte) error
	Filename(u *url.URL) string
}

// MarshalHeaders serializes a header map for sidecar storage.
func MarshalHeaders(h Headers) ([]byte, error) {
	return json.Marshal(h)
}

// UnmarshalHeaders deserializes a sidecar document into a header map.
func UnmarshalHeaders(data []byte) (Headers, error) {
	var h Headers
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// entryKey maps a URL to its storage key: scheme/host/hash-of-path-and-query.
// The hash keeps keys filename-safe and deterministic across processes; the
// scheme and host segments keep the layout browsable.
func entryKey(u *url.URL) string {
	rest := u.EscapedPath()
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	sum := sha256.Sum256([]byte(rest))
	host := strings.ReplaceAll(u.Host, ":", "_")
	return u.Scheme + "/" + host + "/" + hex.EncodeToString(sum[:])
}
