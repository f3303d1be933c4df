package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/modrunner/sourcefetch/internal/cache"
	"github.com/modrunner/sourcefetch/internal/media"
	"github.com/modrunner/sourcefetch/internal/origin"
)

// freshRedirectBudget is the hop budget for every top-level traversal,
// including the cache re-read after a 304 (that read starts a new
// reconstruction, so it gets a full budget of its own).
const freshRedirectBudget = 10

// fetchRemote materializes a remote module, following origin redirects up to
// hopBudget hops. One loop frame walks the whole chain; each hop consumes a
// unit of budget, and every hop re-checks net permission for its own URL.
func (f *Fetcher) fetchRemote(ctx context.Context, u *url.URL, useDiskCache, cachedOnly bool, hopBudget int, perms Permissions) (*SourceFile, error) {
	for {
		if hopBudget < 0 {
			return nil, ErrTooManyRedirects
		}

		if err := perms.CheckNetURL(u); err != nil {
			return nil, err
		}

		// Blocklisted URLs skip the cached-read path so their copies are
		// always refreshed from the origin.
		if useDiskCache && !f.blocklist.Matches(u) {
			source, err := f.fetchCachedRemote(ctx, u, hopBudget)
			if err != nil {
				return nil, err
			}
			if source != nil {
				return source, nil
			}
		}

		if cachedOnly {
			return nil, &CachedOnlyError{URL: u.String()}
		}

		// The probe runs even when the disk cache was bypassed above, so a
		// stale blocklisted copy still revalidates cheaply.
		etag, err := f.cachedETag(ctx, u)
		if err != nil {
			return nil, err
		}

		slog.Info("download", "url", u.String())

		result, err := f.client.FetchOnce(ctx, u, etag)
		if err != nil {
			return nil, err
		}

		switch result.Kind {
		case origin.NotModified:
			source, err := f.fetchCachedRemote(ctx, u, freshRedirectBudget)
			if err != nil {
				return nil, err
			}
			if source == nil {
				return nil, fmt.Errorf("origin reported %q unmodified but no cached copy exists", u)
			}
			return source, nil

		case origin.Redirect:
			// Record the hop as a placeholder: headers only, empty body.
			// The payload lives under the target URL.
			if err := f.store.Set(ctx, u, result.Headers, nil); err != nil {
				return nil, fmt.Errorf("caching redirect for %q: %w", u, err)
			}
			u = result.Redirect
			hopBudget--

		default:
			if err := f.store.Set(ctx, u, result.Headers, result.Body); err != nil {
				return nil, fmt.Errorf("caching %q: %w", u, err)
			}
			return f.newRemoteSource(u, result.Headers, result.Body), nil
		}
	}
}

// fetchCachedRemote reconstructs a module from the disk cache alone,
// following recorded redirect placeholders. A nil, nil return means the
// chain ended at a URL with no cached entry.
func (f *Fetcher) fetchCachedRemote(ctx context.Context, u *url.URL, hopBudget int) (*SourceFile, error) {
	for {
		if hopBudget < 0 {
			return nil, ErrTooManyRedirects
		}

		body, headers, err := f.store.Get(ctx, u)
		if err != nil {
			if errors.Is(err, cache.ErrNotCached) {
				return nil, nil
			}
			return nil, err
		}

		if location, ok := headers["location"]; ok && location != "" {
			body.Close()
			target, err := url.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("cached redirect for %q has invalid location %q: %w", u, location, err)
			}
			if !target.IsAbs() {
				// Path-only redirect: same origin, new path.
				v := *u
				v.Path = location
				v.RawPath = ""
				target = &v
			}
			u = target
			hopBudget--
			continue
		}

		source, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading cached %q: %w", u, err)
		}

		return f.newRemoteSource(u, headers, source), nil
	}
}

// cachedETag reads the stored entity tag for u, if any. A cold cache is not
// an error; any other cache failure is.
func (f *Fetcher) cachedETag(ctx context.Context, u *url.URL) (string, error) {
	body, headers, err := f.store.Get(ctx, u)
	if err != nil {
		if errors.Is(err, cache.ErrNotCached) {
			return "", nil
		}
		return "", err
	}
	body.Close()
	return headers["etag"], nil
}

// newRemoteSource builds the record for a remote module from its cached or
// freshly fetched bytes and header map.
func (f *Fetcher) newRemoteSource(u *url.URL, headers cache.Headers, body []byte) *SourceFile {
	mediaType, charset := media.Classify(u.Path, headers["content-type"])
	clone := *u
	return &SourceFile{
		URL:         &clone,
		Filename:    f.store.Filename(u),
		MediaType:   mediaType,
		TypesHeader: headers["x-typescript-types"],
		Source:      NewTextDocument(body, charset),
	}
}
