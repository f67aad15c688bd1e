// Package objhash implements spec.md §4.2: the stable path encoding for
// dataset/lens/record identifiers, and the canonical object hash.
package objhash

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
	_ "github.com/bobg/pigeon-optics/codec/cbor" // registers the canonical codec
)

// ObjectHash computes the SHA-256 of v's canonical CBOR encoding
// (spec.md §3). It is the only sanctioned way to turn a StructuredValue
// into a Hash; no other codec may influence the result (spec.md §4.1).
func ObjectHash(v optics.StructuredValue) (optics.Hash, error) {
	b, err := codec.Canonical().Encode(v)
	if err != nil {
		return optics.Hash{}, err
	}
	return optics.SumHash(b), nil
}

// Encode builds the "pigeon-optics:/<source>/<user>:<name>[/<recordID>]"
// identifier of spec.md §4.2, URL-percent-encoding each segment.
func Encode(source, user, name string, recordID ...string) string {
	s := fmt.Sprintf("pigeon-optics:/%s/%s:%s", seg(source), seg(user), seg(name))
	if len(recordID) > 0 && recordID[0] != "" {
		s += "/" + seg(recordID[0])
	}
	return s
}

func seg(s string) string {
	return url.PathEscape(s)
}

// Decode parses the identifier Encode produces. recordID is "" if the
// identifier names a dataset rather than a record.
func Decode(s string) (source, user, name, recordID string, err error) {
	const prefix = "pigeon-optics:/"
	if !strings.HasPrefix(s, prefix) {
		return "", "", "", "", fmt.Errorf("objhash: %q: missing %q prefix", s, prefix)
	}
	rest := strings.TrimPrefix(s, prefix)
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		return "", "", "", "", fmt.Errorf("objhash: %q: missing \"user:name\" segment", s)
	}
	sourceEnc, userName := parts[0], parts[1]

	colon := strings.Index(userName, ":")
	if colon < 0 {
		return "", "", "", "", fmt.Errorf("objhash: %q: missing \"user:name\" segment", s)
	}
	userEnc, nameEnc := userName[:colon], userName[colon+1:]

	source, err = url.PathUnescape(sourceEnc)
	if err != nil {
		return "", "", "", "", err
	}
	user, err = url.PathUnescape(userEnc)
	if err != nil {
		return "", "", "", "", err
	}
	name, err = url.PathUnescape(nameEnc)
	if err != nil {
		return "", "", "", "", err
	}
	if len(parts) == 3 && parts[2] != "" {
		recordID, err = url.PathUnescape(parts[2])
		if err != nil {
			return "", "", "", "", err
		}
	}
	return source, user, name, recordID, nil
}

// Path renders the "<source>/<user>/<name>[/<recordID>]" slash-joined form
// used as an events.Bus topic and a resolver.Meta argument (distinct from
// the percent-encoded Encode/Decode pair above, which is the URI form used
// at the external interface).
func Path(source, user, name string, recordID ...string) string {
	p := source + "/" + user + "/" + name
	if len(recordID) > 0 && recordID[0] != "" {
		p += "/" + recordID[0]
	}
	return p
}

// SplitPath is the inverse of Path.
func SplitPath(p string) (source, user, name, recordID string, err error) {
	parts := strings.SplitN(p, "/", 4)
	if len(parts) < 3 {
		return "", "", "", "", fmt.Errorf("objhash: %q: need at least source/user/name", p)
	}
	source, user, name = parts[0], parts[1], parts[2]
	if len(parts) == 4 {
		recordID = parts[3]
	}
	return source, user, name, recordID, nil
}
