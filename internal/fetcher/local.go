package fetcher

import (
	"net/url"
	"os"
	"path/filepath"

	"github.com/modrunner/sourcefetch/internal/media"
)

// fetchLocal reads a file: URL straight from disk under a read-permission
// check. The disk cache plays no part; local files are their own storage.
func fetchLocal(u *url.URL, perms Permissions) (*SourceFile, error) {
	path, err := fileURLPath(u)
	if err != nil {
		return nil, err
	}

	if err := perms.CheckRead(path); err != nil {
		return nil, err
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	clone := *u
	return &SourceFile{
		URL:       &clone,
		Filename:  path,
		MediaType: media.FromPath(path),
		Source:    NewTextDocument(source, ""),
	}, nil
}

// fileURLPath converts a file: URL into a host filesystem path. Remote hosts
// (UNC-style URLs) and empty paths are rejected.
func fileURLPath(u *url.URL) (string, error) {
	if u.Path == "" || (u.Host != "" && u.Host != "localhost") {
		return "", &URIError{URL: u.String()}
	}
	return filepath.FromSlash(u.Path), nil
}
