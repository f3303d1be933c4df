package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modrunner/sourcefetch/internal/cache"
	"github.com/modrunner/sourcefetch/internal/media"
	"github.com/modrunner/sourcefetch/internal/permissions"
)

func parseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func newFetcher(t *testing.T, store cache.Store, opts Options) *Fetcher {
	t.Helper()
	f, err := New(store, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func newDiskFetcher(t *testing.T, opts Options) (*Fetcher, *cache.DiskStore) {
	t.Helper()
	store := cache.NewDiskStore(t.TempDir())
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return newFetcher(t, store, opts), store
}

func TestFetchLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.ts")
	if err := os.WriteFile(path, []byte("export const local = true;"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, _ := newDiskFetcher(t, Options{UseDiskCache: true})
	u := &url.URL{Scheme: "file", Path: path}

	source, err := f.Fetch(context.Background(), u, nil, permissions.AllowAll())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(source.Source.Bytes()) != "export const local = true;" {
		t.Errorf("bytes = %q", source.Source.Bytes())
	}
	if source.Filename != path {
		t.Errorf("filename = %q, want %q", source.Filename, path)
	}
	if source.MediaType != media.TypeScript {
		t.Errorf("media type = %v", source.MediaType)
	}
	if source.TypesHeader != "" {
		t.Errorf("types header = %q, want empty", source.TypesHeader)
	}
}

func TestFetchLocalFileMissing(t *testing.T) {
	f, _ := newDiskFetcher(t, Options{UseDiskCache: true})
	u := &url.URL{Scheme: "file", Path: filepath.Join(t.TempDir(), "missing.ts")}

	_, err := f.Fetch(context.Background(), u, nil, permissions.AllowAll())
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if !strings.Contains(err.Error(), "Cannot resolve module") {
		t.Errorf("message = %q", err)
	}
}

func TestFetchLocalPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.ts")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, _ := newDiskFetcher(t, Options{UseDiskCache: true})
	u := &url.URL{Scheme: "file", Path: path}

	var denied Permissions = &permissions.Permissions{AllowNet: true}
	_, err := f.Fetch(context.Background(), u, nil, denied)
	var de *permissions.DeniedError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DeniedError surfaced verbatim", err)
	}
}

func TestFetchFileURLWithRemoteHost(t *testing.T) {
	f, _ := newDiskFetcher(t, Options{UseDiskCache: true})
	u := &url.URL{Scheme: "file", Host: "fileserver", Path: "/share/mod.ts"}

	_, err := f.Fetch(context.Background(), u, nil, permissions.AllowAll())
	var uriErr *URIError
	if !errors.As(err, &uriErr) {
		t.Fatalf("err = %v, want URIError", err)
	}
}

func TestFetchUnsupportedScheme(t *testing.T) {
	f, _ := newDiskFetcher(t, Options{UseDiskCache: true})

	_, err := f.Fetch(context.Background(), parseURL(t, "ftp://example.com/mod.ts"), nil, permissions.AllowAll())
	var unsupported *UnsupportedSchemeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedSchemeError", err)
	}
	for _, want := range []string{"ftp", "ftp://example.com/mod.ts", "http", "https", "file"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("message %q missing %q", err, want)
		}
	}
}

func TestFetchNoRemote(t *testing.T) {
	f, _ := newDiskFetcher(t, Options{UseDiskCache: true, NoRemote: true})

	_, err := f.Fetch(context.Background(), parseURL(t, "http://example.com/mod.ts"), nil, permissions.AllowAll())
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if !strings.Contains(err.Error(), `Cannot resolve module "http://example.com/mod.ts"`) {
		t.Errorf("message = %q", err)
	}
}

func TestFetchCachedOnlyUncached(t *testing.T) {
	f, _ := newDiskFetcher(t, Options{UseDiskCache: true, CachedOnly: true})

	_, err := f.Fetch(context.Background(), parseURL(t, "http://example.com/x.ts"), nil, permissions.AllowAll())
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if !strings.Contains(err.Error(), "--cached-only") {
		t.Errorf("message %q does not name the flag", err)
	}
	if !strings.Contains(err.Error(), `Cannot find module "http://example.com/x.ts"`) {
		t.Errorf("message = %q", err)
	}
}

func TestFetchErrorCarriesReferrer(t *testing.T) {
	f, _ := newDiskFetcher(t, Options{UseDiskCache: true, CachedOnly: true})

	_, err := f.Fetch(context.Background(),
		parseURL(t, "http://example.com/x.ts"),
		parseURL(t, "http://example.com/main.ts"),
		permissions.AllowAll())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), ` from "http://example.com/main.ts"`) {
		t.Errorf("message = %q", err)
	}
}

func TestFetchMemoryCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/typescript")
		w.Write([]byte("export const x = 1;"))
	}))
	defer srv.Close()

	f, _ := newDiskFetcher(t, Options{UseDiskCache: true})
	u := parseURL(t, srv.URL+"/mod.ts")

	first, err := f.Fetch(context.Background(), u, nil, permissions.AllowAll())
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	second, err := f.Fetch(context.Background(), u, nil, permissions.AllowAll())
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}

	if hits != 1 {
		t.Errorf("origin hit %d times, want 1", hits)
	}
	if !first.Source.Equal(second.Source) {
		t.Error("second fetch returned different source")
	}
}

func TestFetchShebang(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/with_newline.ts":
			w.Write([]byte("#!/usr/bin/env x\nconsole.log(1);\n"))
		case "/bare.ts":
			w.Write([]byte("#!"))
		}
	}))
	defer srv.Close()

	f, _ := newDiskFetcher(t, Options{UseDiskCache: true})

	source, err := f.Fetch(context.Background(), parseURL(t, srv.URL+"/with_newline.ts"), nil, permissions.AllowAll())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := string(source.Source.Bytes()); got != "\nconsole.log(1);\n" {
		t.Errorf("bytes = %q, want %q", got, "\nconsole.log(1);\n")
	}

	source, err = f.Fetch(context.Background(), parseURL(t, srv.URL+"/bare.ts"), nil, permissions.AllowAll())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(source.Source.Bytes()) != 0 {
		t.Errorf("bytes = %q, want empty", source.Source.Bytes())
	}
}

func TestSaveInjectsRecord(t *testing.T) {
	f, _ := newDiskFetcher(t, Options{UseDiskCache: true})
	u := parseURL(t, "http://injected.example/virtual.ts")

	injected := &SourceFile{
		URL:       u,
		Filename:  "virtual.ts",
		MediaType: media.TypeScript,
		Source:    NewTextDocument([]byte("export {};"), ""),
	}
	f.Save(u, injected)

	source, err := f.Fetch(context.Background(), u, nil, permissions.AllowAll())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if source != injected {
		t.Error("Fetch did not return the injected record")
	}
}

func TestFetchCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/typescript")
		w.Write([]byte("export const y = 2;"))
	}))
	defer srv.Close()

	store := cache.NewDiskStore(t.TempDir())
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	u := parseURL(t, srv.URL+"/mod.ts")

	warm := newFetcher(t, store, Options{UseDiskCache: true})
	if _, err := warm.Fetch(context.Background(), u, nil, permissions.AllowAll()); err != nil {
		t.Fatalf("warm Fetch: %v", err)
	}
	srv.Close() // anything below must not touch the network

	cold := newFetcher(t, store, Options{UseDiskCache: true})
	source := cold.FetchCached(context.Background(), u, permissions.AllowAll())
	if source == nil {
		t.Fatal("FetchCached returned nil for cached module")
	}
	if string(source.Source.Bytes()) != "export const y = 2;" {
		t.Errorf("bytes = %q", source.Source.Bytes())
	}

	if got := cold.FetchCached(context.Background(), parseURL(t, "http://never.fetched/x.ts"), permissions.AllowAll()); got != nil {
		t.Errorf("FetchCached for unknown module = %v, want nil", got)
	}
	if got := cold.FetchCached(context.Background(), parseURL(t, "ftp://bad.scheme/x.ts"), permissions.AllowAll()); got != nil {
		t.Errorf("FetchCached for bad scheme = %v, want nil", got)
	}
}
