package fetcher

import (
	"errors"
	"fmt"
)

// ErrTooManyRedirects is returned when a redirect chain exhausts the hop
// budget, whether walking the live origin or the cached chain.
var ErrTooManyRedirects = errors.New("too many redirects")

// UnsupportedSchemeError is returned by Fetch for URLs outside the http,
// https and file schemes; FetchCached reports such URLs as absent. It is
// terminal for the request.
type UnsupportedSchemeError struct {
	Scheme string
	URL    string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported scheme %q for module %q; supported schemes: %v",
		e.Scheme, e.URL, supportedSchemes)
}

// URIError is returned when a file URL cannot be converted to a filesystem
// path.
type URIError struct {
	URL string
}

func (e *URIError) Error() string {
	return fmt.Sprintf("file URL %q contains an invalid path", e.URL)
}

// CachedOnlyError is returned when the fetcher runs in cached-only mode and
// the requested module has no cached copy.
type CachedOnlyError struct {
	URL string
}

func (e *CachedOnlyError) Error() string {
	return fmt.Sprintf("Cannot find remote file '%s' in cache, --cached-only is specified", e.URL)
}

// NotFoundError reports a module that could not be materialized. The message
// already carries the specifier and, when known, the referrer.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string {
	return e.Msg
}
