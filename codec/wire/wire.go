// Package wire holds the StructuredValue<->any conversion shared by the
// non-canonical codecs (JSON, YAML, MessagePack, JSON-Lines), each of which
// otherwise follows its own format's native conventions (spec.md §4.1).
// Only the bytes representation differs between formats, so it is
// pluggable via BytesCodec.
package wire

import (
	"fmt"

	"github.com/bobg/pigeon-optics"
)

// BytesCodec controls how a KindBytes StructuredValue is represented in the
// "any" tree before being handed to a format library, and how it is
// recognised coming back. Formats with native binary support (YAML,
// MessagePack) use PassthroughBytes; codec/jsoncodec supplies its own
// BytesCodec to match spec.md §4.1's `{"type":"Buffer","data":[...]}`
// convention.
type BytesCodec interface {
	ToAny(b []byte) interface{}
	// FromAny recognises its own wrapper shape in v, returning ok=false if v
	// isn't one.
	FromAny(v interface{}) (b []byte, ok bool)
}

// PassthroughBytes represents bytes as a plain []byte, for formats whose
// library already has a native binary scalar.
type PassthroughBytes struct{}

func (PassthroughBytes) ToAny(b []byte) interface{} { return b }
func (PassthroughBytes) FromAny(v interface{}) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}

// ToAny converts a StructuredValue into a plain Go value (nil, bool,
// int64/float64, string, []byte-ish, []interface{}, map[string]interface{})
// suitable for marshaling with an encoding/* or third-party library. Times
// become the time.Time value itself; HashURLs become their string form
// (format-independent codecs have no separate HashURL wire type, matching
// "every string value matching the prefix is treated as a reference" in
// spec.md §6.3).
func ToAny(v optics.StructuredValue, bc BytesCodec) (interface{}, error) {
	switch v.Kind {
	case optics.KindNull:
		return nil, nil
	case optics.KindBool:
		return v.Bool, nil
	case optics.KindInt:
		return v.Int, nil
	case optics.KindFloat:
		return v.Float, nil
	case optics.KindString:
		return v.Str, nil
	case optics.KindBytes:
		return bc.ToAny(v.Bytes), nil
	case optics.KindTime:
		return v.Time, nil
	case optics.KindHashURL:
		return v.HashURL.String(), nil
	case optics.KindSeq:
		out := make([]interface{}, len(v.Seq))
		for i, e := range v.Seq {
			w, err := ToAny(e, bc)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case optics.KindMap:
		out := make(map[string]interface{}, len(v.Map))
		for k, e := range v.Map {
			w, err := ToAny(e, bc)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		return out, nil
	default:
		return nil, fmt.Errorf("wire: unknown kind %d", v.Kind)
	}
}

// FromAny is the inverse of ToAny. It recognises hash URL strings
// opportunistically (spec.md §6.3) and treats every integer-looking numeric
// type the underlying library produced as KindInt, everything else
// numeric as KindFloat.
func FromAny(w interface{}, bc BytesCodec) (optics.StructuredValue, error) {
	if b, ok := bc.FromAny(w); ok {
		return optics.Bytes(b), nil
	}
	switch x := w.(type) {
	case nil:
		return optics.Null(), nil
	case bool:
		return optics.Bool(x), nil
	case int:
		return optics.Int(int64(x)), nil
	case int64:
		return optics.Int(x), nil
	case uint64:
		return optics.Int(int64(x)), nil
	case float64:
		if float64(int64(x)) == x {
			return optics.Int(int64(x)), nil
		}
		return optics.Float(x), nil
	case float32:
		return optics.Float(float64(x)), nil
	case string:
		if u, ok, err := optics.ParseHashURL(x); err == nil && ok {
			return optics.HashURLValue(u), nil
		}
		return optics.String(x), nil
	case []byte:
		return optics.Bytes(x), nil
	case []interface{}:
		items := make([]optics.StructuredValue, len(x))
		for i, e := range x {
			sv, err := FromAny(e, bc)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			items[i] = sv
		}
		return optics.Seq(items...), nil
	case map[string]interface{}:
		m := make(map[string]optics.StructuredValue, len(x))
		keys := make([]string, 0, len(x))
		for k, e := range x {
			sv, err := FromAny(e, bc)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			m[k] = sv
			keys = append(keys, k)
		}
		return optics.Map(m, keys), nil
	case map[interface{}]interface{}:
		m := make(map[string]optics.StructuredValue, len(x))
		keys := make([]string, 0, len(x))
		for k, e := range x {
			ks := fmt.Sprintf("%v", k)
			sv, err := FromAny(e, bc)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			m[ks] = sv
			keys = append(keys, ks)
		}
		return optics.Map(m, keys), nil
	default:
		return timeOrErr(w)
	}
}

func timeOrErr(w interface{}) (optics.StructuredValue, error) {
	if t, ok := asTime(w); ok {
		return optics.Time(t), nil
	}
	return optics.StructuredValue{}, fmt.Errorf("wire: unsupported decoded type %T", w)
}
