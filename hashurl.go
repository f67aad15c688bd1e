package optics

import (
	"fmt"
	"net/url"
	"strings"
)

// HashURLScheme and HashURLPrefix make up the "hash://sha256/<hex>" URI
// scheme of spec.md §6.3, by which a StructuredValue embeds a reference to
// an opaque attachment.
const (
	HashURLScheme = "hash"
	hashURLHost   = "sha256"
)

// HashURL is a parsed "hash://sha256/<hex>[?type=<mime>]" reference.
type HashURL struct {
	Hash     Hash
	MIMEType string // empty if absent
}

// NewHashURL builds a HashURL for h, with an optional media type.
func NewHashURL(h Hash, mimeType string) HashURL {
	return HashURL{Hash: h, MIMEType: mimeType}
}

// String renders u in canonical (lowercase-hex) form.
func (u HashURL) String() string {
	s := fmt.Sprintf("hash://sha256/%s", u.Hash.String())
	if u.MIMEType != "" {
		s += "?type=" + url.QueryEscape(u.MIMEType)
	}
	return s
}

// ParseHashURL parses s as a hash URI. It returns false, nil if s does not
// look like one at all (so callers can use it as a predicate while walking
// arbitrary strings inside a StructuredValue).
func ParseHashURL(s string) (HashURL, bool, error) {
	if !strings.HasPrefix(s, HashURLScheme+"://") {
		return HashURL{}, false, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return HashURL{}, true, fmt.Errorf("parsing hash url %q: %w", s, err)
	}
	if u.Host != hashURLHost {
		return HashURL{}, true, fmt.Errorf("hash url %q: unsupported algorithm %q", s, u.Host)
	}
	hex := strings.ToLower(strings.TrimPrefix(u.Path, "/"))
	h, err := HashFromHex(hex)
	if err != nil {
		return HashURL{}, true, fmt.Errorf("hash url %q: %w", s, err)
	}
	return HashURL{Hash: h, MIMEType: u.Query().Get("type")}, true, nil
}
