package fetcher

import (
	"net/url"
	"strings"
)

// Blocklist holds the URLs whose cached copies must be bypassed. Entries are
// normalized at construction: the fragment is dropped and a trailing slash
// trimmed. A plain entry (no query, no fragment) blocks itself and every URL
// beneath it; an entry that carried a query or a fragment blocks only the
// URL it names, fragment differences aside.
type Blocklist struct {
	exact  map[string]struct{}
	prefix map[string]struct{}
}

// NewBlocklist normalizes raw pattern strings into a matcher. Unparseable
// entries are kept verbatim as exact matches.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{
		exact:  make(map[string]struct{}),
		prefix: make(map[string]struct{}),
	}

	for _, raw := range patterns {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			b.exact[raw] = struct{}{}
			continue
		}

		exactOnly := u.RawQuery != "" || u.Fragment != ""

		u.Fragment = ""
		u.RawFragment = ""
		entry := strings.TrimSuffix(u.String(), "/")

		b.exact[entry] = struct{}{}
		if !exactOnly {
			b.prefix[entry] = struct{}{}
		}
	}

	return b
}

// Matches reports whether u is on the blocklist. The URL's fragment never
// participates; its query only matters for exact entries.
func (b *Blocklist) Matches(u *url.URL) bool {
	if b == nil || len(b.exact) == 0 {
		return false
	}

	v := *u
	v.Fragment = ""
	v.RawFragment = ""
	if _, ok := b.exact[v.String()]; ok {
		return true
	}

	// Walk the path prefixes, dropping one segment at a time.
	v.RawQuery = ""
	s := v.String()
	for s != "" {
		if _, ok := b.prefix[s]; ok {
			return true
		}
		i := strings.LastIndex(s, "/")
		if i < 0 {
			break
		}
		s = s[:i]
	}

	return false
}
