// Package codec is the media-type registry of spec.md §4.1: each format
// Pigeon Optics understands registers a Codec here, keyed by the media
// types and file extensions it handles. Encoding/decoding always goes
// through a StructuredValue so that every format normalises to the same
// shape; only the canonical codec is ever used to compute an object hash.
package codec

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/bobg/pigeon-optics"
)

// Codec converts between raw bytes and optics.StructuredValue for one wire
// format.
type Codec interface {
	// Encode serialises v.
	Encode(v optics.StructuredValue) ([]byte, error)
	// Decode parses data into a StructuredValue.
	Decode(data []byte) (optics.StructuredValue, error)
	// MediaTypes lists the MIME types this codec answers to, most
	// preferred first.
	MediaTypes() []string
	// Extensions lists file extensions (without the leading dot) this
	// codec answers to.
	Extensions() []string
	// Canonical reports whether this codec may be used to compute an
	// object hash. Exactly one registered codec should answer true.
	Canonical() bool
}

var (
	mu                sync.RWMutex
	byName            = map[string]Codec{}
	mediaTypeHandlers = map[string]Codec{}
	extensionHandlers = map[string]Codec{}
	canonical         Codec
)

// Register adds c to the registry under name, indexing its media types and
// extensions for lookup by For. Register is meant to be called from an
// init function of each codec's own package, mirroring
// github.com/bobg/bs/store.Register's factory-registry shape.
func Register(name string, c Codec) {
	mu.Lock()
	defer mu.Unlock()

	byName[name] = c
	for _, mt := range c.MediaTypes() {
		mediaTypeHandlers[mt] = c
	}
	for _, ext := range c.Extensions() {
		extensionHandlers[ext] = c
	}
	if c.Canonical() {
		if canonical != nil && canonical != c {
			panic(fmt.Sprintf("codec: two canonical codecs registered: %T and %T", canonical, c))
		}
		canonical = c
	}
}

// For looks up a codec by a media type (optionally with ";parameters"), a
// bare file extension, or a full filename. It returns nil, false if nothing
// matches.
func For(query string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()

	if c, ok := byName[query]; ok {
		return c, true
	}

	if mt, _, err := mime.ParseMediaType(query); err == nil {
		if c, ok := mediaTypeHandlers[mt]; ok {
			return c, true
		}
	}

	ext := strings.TrimPrefix(path.Ext(query), ".")
	if ext == "" {
		ext = strings.TrimPrefix(query, ".")
	}
	if c, ok := extensionHandlers[ext]; ok {
		return c, true
	}

	return nil, false
}

// Canonical returns the codec designated as canonical (CBOR, per
// spec.md §4.1). It panics if no canonical codec has been registered,
// since every process that imports this package is expected to also
// (blank-)import codec/cbor.
func Canonical() Codec {
	mu.RLock()
	defer mu.RUnlock()
	if canonical == nil {
		panic("codec: no canonical codec registered; import github.com/bobg/pigeon-optics/codec/cbor")
	}
	return canonical
}
