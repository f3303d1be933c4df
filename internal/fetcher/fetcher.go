// Package fetcher materializes module sources from the local filesystem or
// remote HTTP(S) origins, backed by a process-memory cache and a persistent
// source cache with redirect placeholders and ETag revalidation.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/modrunner/sourcefetch/internal/cache"
	"github.com/modrunner/sourcefetch/internal/media"
	"github.com/modrunner/sourcefetch/internal/origin"
)

var supportedSchemes = []string{"http", "https", "file"}

// Permissions is the capability consulted before filesystem reads and
// network fetches. Decisions are never cached; every fetch asks again.
type Permissions interface {
	CheckRead(path string) error
	CheckNetURL(u *url.URL) error
}

// SourceFile is a materialized module source. URL is the final location
// after redirects, which may differ from the specifier the caller asked
// for. A SourceFile is immutable once returned.
type SourceFile struct {
	URL         *url.URL
	Filename    string
	TypesHeader string
	MediaType   media.Type
	Source      *TextDocument
}

// Options configures a Fetcher at construction time.
type Options struct {
	// UseDiskCache serves remote modules from the source cache when a copy
	// exists, instead of contacting the origin.
	UseDiskCache bool
	// NoRemote fails every http(s) fetch outright.
	NoRemote bool
	// CachedOnly fails remote fetches whose module has no cached copy.
	CachedOnly bool
	// CacheBlocklist lists URL patterns whose cached copies are bypassed.
	CacheBlocklist []string
	// CAFile optionally points at a PEM bundle for origin TLS verification.
	CAFile string
}

// Fetcher loads module sources. One instance is shared by all concurrent
// request contexts; the memory cache serializes its own access and is never
// locked across a suspension point.
type Fetcher struct {
	store     cache.Store
	client    *origin.Client
	blocklist *Blocklist

	useDiskCache bool
	noRemote     bool
	cachedOnly   bool

	group singleflight.Group

	mu     sync.Mutex
	memory map[string]*SourceFile
}

// New creates a Fetcher over the given source cache store. Constructing the
// origin HTTP client (including the CA bundle, when configured) can fail,
// and that failure propagates out of construction.
func New(store cache.Store, opts Options) (*Fetcher, error) {
	client, err := origin.NewClient(opts.CAFile)
	if err != nil {
		return nil, fmt.Errorf("creating origin client: %w", err)
	}

	return &Fetcher{
		store:        store,
		client:       client,
		blocklist:    NewBlocklist(opts.CacheBlocklist),
		useDiskCache: opts.UseDiskCache,
		noRemote:     opts.NoRemote,
		cachedOnly:   opts.CachedOnly,
		memory:       make(map[string]*SourceFile),
	}, nil
}

// Fetch materializes the module named by specifier. The result is cached in
// process memory under the specifier, so repeat fetches are free and never
// touch the client again. Concurrent fetches of the same specifier are
// coalesced into one origin round trip.
//
// The optional referrer only enriches not-found error messages.
func (f *Fetcher) Fetch(ctx context.Context, specifier *url.URL, referrer *url.URL, perms Permissions) (*SourceFile, error) {
	key := specifier.String()

	if source := f.memGet(key); source != nil {
		return source, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		source, err := f.getSource(ctx, specifier, perms)
		if err != nil {
			return nil, err
		}

		if bytes.HasPrefix(source.Source.Bytes(), []byte("#!")) {
			stripped, err := stripShebang(source.Source)
			if err != nil {
				return nil, err
			}
			source.Source = stripped
		}

		f.memSet(key, source)
		return source, nil
	})
	if err != nil {
		return nil, enrichError(err, specifier, referrer)
	}

	return v.(*SourceFile), nil
}

// FetchCached returns the module for specifier without ever touching the
// network: the memory cache, the local filesystem (for file URLs), or the
// disk cache chain. A nil return means the module is simply absent.
// Consumers that must work offline (source maps, diagnostics) rely on this.
func (f *Fetcher) FetchCached(ctx context.Context, specifier *url.URL, perms Permissions) *SourceFile {
	if source := f.memGet(specifier.String()); source != nil {
		return source
	}

	if err := checkSupportedScheme(specifier); err != nil {
		return nil
	}

	if specifier.Scheme == "file" {
		source, err := fetchLocal(specifier, perms)
		if err != nil {
			return nil
		}
		return source
	}

	source, err := f.fetchCachedRemote(ctx, specifier, freshRedirectBudget)
	if err != nil {
		return nil
	}
	return source
}

// Save injects a synthesized module into the memory cache under specifier,
// bypassing both disk and network. The surrounding runtime uses this for
// modules with no on-disk existence.
func (f *Fetcher) Save(specifier *url.URL, source *SourceFile) {
	f.memSet(specifier.String(), source)
}

// getSource dispatches one uncached fetch by scheme.
func (f *Fetcher) getSource(ctx context.Context, u *url.URL, perms Permissions) (*SourceFile, error) {
	if err := checkSupportedScheme(u); err != nil {
		return nil, err
	}

	if u.Scheme == "file" {
		return fetchLocal(u, perms)
	}

	if f.noRemote {
		return nil, &NotFoundError{Msg: fmt.Sprintf("Not allowed to get remote file '%s'", u)}
	}

	return f.fetchRemote(ctx, u, f.useDiskCache, f.cachedOnly, freshRedirectBudget, perms)
}

func (f *Fetcher) memGet(key string) *SourceFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memory[key]
}

func (f *Fetcher) memSet(key string, source *SourceFile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memory[key] = source
}

func checkSupportedScheme(u *url.URL) error {
	for _, scheme := range supportedSchemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return &UnsupportedSchemeError{Scheme: u.Scheme, URL: u.String()}
}

// stripShebang drops a leading interpreter line. Everything before the first
// newline goes; the newline itself stays. A document that is nothing but a
// shebang becomes empty. The replacement re-detects its charset, so the
// result is a UTF-8 document regardless of the original encoding.
func stripShebang(doc *TextDocument) (*TextDocument, error) {
	text, err := doc.Text()
	if err != nil {
		return nil, err
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return NewTextDocument([]byte(text[i:]), ""), nil
	}
	return NewTextDocument(nil, ""), nil
}

// enrichError injects the specifier (and referrer, when known) into
// not-found failures. The error kind decides; messages are cosmetic.
func enrichError(err error, specifier, referrer *url.URL) error {
	var referrerSuffix string
	if referrer != nil {
		referrerSuffix = fmt.Sprintf(" from %q", referrer)
	}

	var cachedOnly *CachedOnlyError
	if errors.As(err, &cachedOnly) {
		return &NotFoundError{Msg: fmt.Sprintf("Cannot find module %q%s in cache, --cached-only is specified", specifier, referrerSuffix)}
	}

	var notFound *NotFoundError
	if errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound) {
		return &NotFoundError{Msg: fmt.Sprintf("Cannot resolve module %q%s", specifier, referrerSuffix)}
	}

	return err
}
