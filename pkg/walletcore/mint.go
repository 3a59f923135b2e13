// Package walletcore holds the wallet's semantic data model: the entity
// types every repository, service and saga in this module operates on.
// Persistence layout is each repository backend's own concern (§3); these
// are plain Go values, never held as long-lived mutable references by
// services (§3 "Ownership").
package walletcore

import (
	"net/url"
	"strings"
	"time"
)

// Mint is a Cashu mint identified by its normalized URL.
type Mint struct {
	URL         string
	Name        string
	InfoBlob    []byte
	Trusted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastFetched time.Time
}

// MintInfoTTL is the refresh interval for cached mint info (§3 Mint
// lifecycle: "updated on refresh (TTL 5 minutes)").
const MintInfoTTL = 5 * time.Minute

// Stale reports whether the mint's cached info is older than MintInfoTTL.
func (m Mint) Stale(now time.Time) bool {
	return now.Sub(m.LastFetched) >= MintInfoTTL
}

// NormalizeMintURL applies the mandatory URL normalization from §6:
// lowercase host, drop default ports, strip trailing slash (root becomes
// bare origin), collapse redundant path segments.
func NormalizeMintURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	u.Host = strings.ToLower(u.Host)

	switch {
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}

	u.Path = collapsePath(u.Path)
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// collapsePath removes "." segments, resolves ".." segments and collapses
// repeated slashes without relying on path.Clean's handling of a trailing
// slash (which we strip separately).
func collapsePath(p string) string {
	if p == "" {
		return ""
	}

	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))

	for _, s := range segments {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}

	if len(out) == 0 {
		return ""
	}

	return "/" + strings.Join(out, "/")
}
