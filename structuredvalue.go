package optics

import "time"

// Kind tags the variant held by a StructuredValue.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindHashURL
	KindSeq
	KindMap
)

// StructuredValue is the central, format-independent representation that
// every codec in package codec converts to and from (spec.md §9's "Design
// Notes" on a tagged sum type replacing a duck-typed value). Exactly one of
// the typed fields is meaningful, selected by Kind.
//
// StructuredValue is a value type; Seq and Map entries are themselves
// StructuredValues, recursively. Cyclic construction is possible in memory
// but the canonical codec refuses to encode it (spec.md §9).
type StructuredValue struct {
	Kind Kind

	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Bytes   []byte
	Time    time.Time
	HashURL HashURL
	Seq     []StructuredValue
	Map     map[string]StructuredValue
	// MapKeys preserves insertion order for map-shaped values so that
	// non-canonical codecs (YAML, XML, JSON-Lines) can round-trip author
	// intent; the canonical CBOR codec ignores it and always sorts keys.
	MapKeys []string
}

func Null() StructuredValue                { return StructuredValue{Kind: KindNull} }
func Bool(b bool) StructuredValue          { return StructuredValue{Kind: KindBool, Bool: b} }
func Int(i int64) StructuredValue          { return StructuredValue{Kind: KindInt, Int: i} }
func Float(f float64) StructuredValue      { return StructuredValue{Kind: KindFloat, Float: f} }
func String(s string) StructuredValue      { return StructuredValue{Kind: KindString, Str: s} }
func Bytes(b []byte) StructuredValue       { return StructuredValue{Kind: KindBytes, Bytes: b} }
func Time(t time.Time) StructuredValue     { return StructuredValue{Kind: KindTime, Time: t} }
func HashURLValue(u HashURL) StructuredValue {
	return StructuredValue{Kind: KindHashURL, HashURL: u}
}
func Seq(items ...StructuredValue) StructuredValue {
	return StructuredValue{Kind: KindSeq, Seq: items}
}

// Map builds a map-shaped StructuredValue, recording key order for codecs
// that care about it.
func Map(pairs map[string]StructuredValue, order []string) StructuredValue {
	if order == nil {
		order = make([]string, 0, len(pairs))
		for k := range pairs {
			order = append(order, k)
		}
	}
	return StructuredValue{Kind: KindMap, Map: pairs, MapKeys: order}
}

// Get returns the field named key from a map-shaped value.
func (v StructuredValue) Get(key string) (StructuredValue, bool) {
	if v.Kind != KindMap {
		return StructuredValue{}, false
	}
	child, ok := v.Map[key]
	return child, ok
}

// ListHashURLs performs the recursive walk of spec.md §6.3: every HashURL
// reachable anywhere inside v is collected, including HashURLs embedded as
// plain strings (e.g. after a round trip through a codec that has no
// dedicated HashURL representation, like JSON or YAML).
func ListHashURLs(v StructuredValue) []HashURL {
	var out []HashURL
	var walk func(StructuredValue)
	seen := make(map[Hash]bool)
	add := func(u HashURL) {
		if !seen[u.Hash] {
			seen[u.Hash] = true
			out = append(out, u)
		}
	}
	walk = func(v StructuredValue) {
		switch v.Kind {
		case KindHashURL:
			add(v.HashURL)
		case KindString:
			if u, ok, err := ParseHashURL(v.Str); err == nil && ok {
				add(u)
			}
		case KindSeq:
			for _, e := range v.Seq {
				walk(e)
			}
		case KindMap:
			for _, k := range v.MapKeys {
				walk(v.Map[k])
			}
		}
	}
	walk(v)
	return out
}

// Equal performs a structural comparison of two StructuredValues, per
// spec.md §8's round-trip property (invariant 2). Map comparison ignores
// key order; byte and time comparisons are by value.
func Equal(a, b StructuredValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindBytes:
		if len(a.Bytes) != len(b.Bytes) {
			return false
		}
		for i := range a.Bytes {
			if a.Bytes[i] != b.Bytes[i] {
				return false
			}
		}
		return true
	case KindTime:
		return a.Time.Equal(b.Time)
	case KindHashURL:
		return a.HashURL.Hash == b.HashURL.Hash && a.HashURL.MIMEType == b.HashURL.MIMEType
	case KindSeq:
		if len(a.Seq) != len(b.Seq) {
			return false
		}
		for i := range a.Seq {
			if !Equal(a.Seq[i], b.Seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}
