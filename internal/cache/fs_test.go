package cache

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	store := NewDiskStore(t.TempDir())
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return store
}

func TestDiskStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	u := mustParse(t, "https://deno.land/std/http/server.ts")

	headers := Headers{
		"content-type": "application/typescript",
		"etag":         `"33a64df5"`,
	}
	body := []byte("export const x = 1;")

	if err := store.Set(context.Background(), u, headers, body); err != nil {
		t.Fatalf("Set: %v", err)
	}

	r, gotHeaders, err := store.Get(context.Background(), u)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("body = %q, want %q", got, body)
	}
	if gotHeaders["content-type"] != "application/typescript" {
		t.Errorf("content-type = %q", gotHeaders["content-type"])
	}
	if gotHeaders["etag"] != `"33a64df5"` {
		t.Errorf("etag = %q", gotHeaders["etag"])
	}
}

func TestDiskStoreMiss(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Get(context.Background(), mustParse(t, "https://example.com/missing.ts"))
	if !errors.Is(err, ErrNotCached) {
		t.Fatalf("err = %v, want ErrNotCached", err)
	}
}

func TestDiskStoreRedirectPlaceholder(t *testing.T) {
	store := newTestStore(t)
	u := mustParse(t, "http://a.example/mod.js")

	headers := Headers{"location": "http://b.example/mod.js"}
	if err := store.Set(context.Background(), u, headers, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	r, gotHeaders, err := store.Get(context.Background(), u)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()

	body, _ := io.ReadAll(r)
	if len(body) != 0 {
		t.Errorf("placeholder body = %q, want empty", body)
	}
	if gotHeaders["location"] != "http://b.example/mod.js" {
		t.Errorf("location = %q", gotHeaders["location"])
	}
}

func TestDiskStoreOverwrite(t *testing.T) {
	store := newTestStore(t)
	u := mustParse(t, "https://example.com/mod.ts")

	if err := store.Set(context.Background(), u, Headers{"etag": "a"}, []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(context.Background(), u, Headers{"etag": "b"}, []byte("two")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	r, headers, err := store.Get(context.Background(), u)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()

	body, _ := io.ReadAll(r)
	if string(body) != "two" || headers["etag"] != "b" {
		t.Errorf("got (%q, %q), want (two, b)", body, headers["etag"])
	}
}

func TestFilenameDeterministic(t *testing.T) {
	root := t.TempDir()
	a := NewDiskStore(root)
	b := NewDiskStore(root)

	u := mustParse(t, "https://example.com:8080/mod.ts?v=1")
	if a.Filename(u) != b.Filename(u) {
		t.Error("Filename not deterministic across instances")
	}
	if !strings.Contains(a.Filename(u), "https") {
		t.Errorf("filename %q missing scheme segment", a.Filename(u))
	}
	if strings.Contains(a.Filename(u), ":8080") {
		t.Errorf("filename %q contains raw port separator", a.Filename(u))
	}

	// Query participates in the key; fragment-free distinct URLs get
	// distinct entries.
	other := mustParse(t, "https://example.com:8080/mod.ts?v=2")
	if a.Filename(u) == a.Filename(other) {
		t.Error("distinct queries mapped to the same cache file")
	}
}

func TestSidecarIsValidJSON(t *testing.T) {
	store := newTestStore(t)
	u := mustParse(t, "https://example.com/mod.ts")

	if err := store.Set(context.Background(), u, Headers{"content-type": "text/plain"}, []byte("x")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(store.Filename(u) + ".meta.json")
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	headers, err := UnmarshalHeaders(raw)
	if err != nil {
		t.Fatalf("sidecar not parseable: %v", err)
	}
	if headers["content-type"] != "text/plain" {
		t.Errorf("content-type = %q", headers["content-type"])
	}
}
