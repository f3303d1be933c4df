package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

// DiskStore provides filesystem-backed caching of module sources under a
// deps directory. Content blobs and .meta.json sidecars are written via
// temp file + rename, so readers see either the old or the new version of a
// sidecar in full, never a partial write.
type DiskStore struct {
	root string
}

// NewDiskStore creates a filesystem cache store rooted at root.
func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

// Init ensures the root directory exists.
func (d *DiskStore) Init(_ context.Context) error {
	return os.MkdirAll(d.root, 0o755)
}

func (d *DiskStore) dataPath(u *url.URL) string {
	return filepath.Join(d.root, filepath.FromSlash(entryKey(u)))
}

func (d *DiskStore) metaPath(u *url.URL) string {
	return d.dataPath(u) + ".meta.json"
}

// Filename reports the path where the content bytes for u are materialized.
func (d *DiskStore) Filename(u *url.URL) string {
	return d.dataPath(u)
}

// Get opens a cached entry. The returned reader streams the content blob;
// the header map comes from the sidecar and is complete before the body is
// touched. Missing entries yield ErrNotCached.
func (d *DiskStore) Get(_ context.Context, u *url.URL) (io.ReadCloser, Headers, error) {
	data, err := os.ReadFile(d.metaPath(u))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%q: %w", u, ErrNotCached)
		}
		return nil, nil, err
	}

	headers, err := UnmarshalHeaders(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing meta sidecar: %w", err)
	}

	file, err := os.Open(d.dataPath(u))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%q: %w", u, ErrNotCached)
		}
		return nil, nil, err
	}

	return file, headers, nil
}

// Set writes the content blob and its header sidecar atomically.
func (d *DiskStore) Set(_ context.Context, u *url.URL, headers Headers, body []byte) error {
	dp := d.dataPath(u)

	if err := os.MkdirAll(filepath.Dir(dp), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	if err := atomicWrite(dp, body); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}

	meta, err := MarshalHeaders(headers)
	if err != nil {
		return fmt.Errorf("marshalling headers: %w", err)
	}
	if err := atomicWrite(d.metaPath(u), meta); err != nil {
		return fmt.Errorf("writing meta sidecar: %w", err)
	}

	return nil
}

// atomicWrite writes data to dst via a temp file + rename.
func atomicWrite(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}
