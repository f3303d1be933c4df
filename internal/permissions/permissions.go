// Package permissions implements the capability checks gating filesystem
// reads and network fetches. The fetcher never caches decisions; every fetch
// consults the capability again.
package permissions

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// DeniedError is returned when a capability query fails. The Access field
// carries user-facing context about what was attempted.
type DeniedError struct {
	Access string
	Flag   string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("requires %s, run again with the %s flag", e.Access, e.Flag)
}

// Permissions is a capability granting read and network access. The zero
// value denies everything.
//
// An empty ReadRoots with AllowRead set grants unrestricted reads; likewise
// an empty NetHosts with AllowNet grants fetches from any host.
type Permissions struct {
	AllowRead bool
	ReadRoots []string
	AllowNet  bool
	NetHosts  []string
}

// AllowAll returns a capability granting unrestricted read and net access.
func AllowAll() *Permissions {
	return &Permissions{AllowRead: true, AllowNet: true}
}

// CheckRead reports whether the capability grants reading path.
func (p *Permissions) CheckRead(path string) error {
	denied := &DeniedError{
		Access: fmt.Sprintf("read access to %q", path),
		Flag:   "--allow-read",
	}
	if !p.AllowRead {
		return denied
	}
	if len(p.ReadRoots) == 0 {
		return nil
	}
	for _, root := range p.ReadRoots {
		if rel, err := filepath.Rel(root, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return denied
}

// CheckNetURL reports whether the capability grants fetching u. Hosts match
// exactly or as subdomains of an allowed entry.
func (p *Permissions) CheckNetURL(u *url.URL) error {
	denied := &DeniedError{
		Access: fmt.Sprintf("network access to %q", u),
		Flag:   "--allow-net",
	}
	if !p.AllowNet {
		return denied
	}
	if len(p.NetHosts) == 0 {
		return nil
	}

	hostname := strings.ToLower(u.Host)
	if h, _, err := net.SplitHostPort(u.Host); err == nil {
		hostname = strings.ToLower(h)
	}

	for _, entry := range p.NetHosts {
		allowed := strings.ToLower(entry)
		if hostname == allowed || strings.HasSuffix(hostname, "."+allowed) {
			return nil
		}
	}
	return denied
}
