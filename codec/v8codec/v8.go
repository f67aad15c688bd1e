// Package v8codec implements the "V8 object encoding" named in spec.md
// §4.1. No Go ecosystem library implements Node's V8 structured-clone wire
// format, so this is built directly on stdlib encoding/binary with a
// length-prefixed tag/value shape modelled on the same principle as the
// canonical CBOR codec (a one-byte tag followed by a fixed or
// length-prefixed payload), rather than attempting to replicate V8's exact
// private wire bytes. Not canonical.
package v8codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
)

const (
	tagNull = iota
	tagFalse
	tagTrue
	tagInt
	tagFloat
	tagString
	tagBytes
	tagTime
	tagHashURL
	tagSeq
	tagMap
)

type codecImpl struct{}

// Codec is the V8 codec instance, registered under name "v8".
var Codec codec.Codec = codecImpl{}

func init() {
	codec.Register("v8", Codec)
}

func (codecImpl) MediaTypes() []string { return []string{"application/x-v8-object"} }
func (codecImpl) Extensions() []string { return []string{"v8"} }
func (codecImpl) Canonical() bool      { return false }

func (codecImpl) Encode(v optics.StructuredValue) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return buf.Bytes(), nil
}

func (codecImpl) Decode(data []byte) (optics.StructuredValue, error) {
	r := bytes.NewReader(data)
	v, err := readValue(r)
	if err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return v, nil
}

func writeValue(buf *bytes.Buffer, v optics.StructuredValue) error {
	switch v.Kind {
	case optics.KindNull:
		buf.WriteByte(tagNull)
	case optics.KindBool:
		if v.Bool {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case optics.KindInt:
		buf.WriteByte(tagInt)
		writeUint64(buf, uint64(v.Int))
	case optics.KindFloat:
		buf.WriteByte(tagFloat)
		writeUint64(buf, math.Float64bits(v.Float))
	case optics.KindString:
		buf.WriteByte(tagString)
		writeBytes(buf, []byte(v.Str))
	case optics.KindBytes:
		buf.WriteByte(tagBytes)
		writeBytes(buf, v.Bytes)
	case optics.KindTime:
		buf.WriteByte(tagTime)
		writeUint64(buf, uint64(v.Time.UnixNano()))
	case optics.KindHashURL:
		buf.WriteByte(tagHashURL)
		writeBytes(buf, []byte(v.HashURL.String()))
	case optics.KindSeq:
		buf.WriteByte(tagSeq)
		writeUint32(buf, uint32(len(v.Seq)))
		for _, e := range v.Seq {
			if err := writeValue(buf, e); err != nil {
				return err
			}
		}
	case optics.KindMap:
		buf.WriteByte(tagMap)
		writeUint32(buf, uint32(len(v.MapKeys)))
		keys := v.MapKeys
		if len(keys) != len(v.Map) {
			keys = keys[:0]
			for k := range v.Map {
				keys = append(keys, k)
			}
		}
		for _, k := range keys {
			writeBytes(buf, []byte(k))
			if err := writeValue(buf, v.Map[k]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("v8codec: unknown kind %d", v.Kind)
	}
	return nil
}

func readValue(r *bytes.Reader) (optics.StructuredValue, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return optics.StructuredValue{}, err
	}
	switch tag {
	case tagNull:
		return optics.Null(), nil
	case tagFalse:
		return optics.Bool(false), nil
	case tagTrue:
		return optics.Bool(true), nil
	case tagInt:
		u, err := readUint64(r)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		return optics.Int(int64(u)), nil
	case tagFloat:
		u, err := readUint64(r)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		return optics.Float(math.Float64frombits(u)), nil
	case tagString:
		b, err := readBytes(r)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		return optics.String(string(b)), nil
	case tagBytes:
		b, err := readBytes(r)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		return optics.Bytes(b), nil
	case tagTime:
		u, err := readUint64(r)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		return optics.Time(timeFromUnixNano(int64(u))), nil
	case tagHashURL:
		b, err := readBytes(r)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		u, ok, err := optics.ParseHashURL(string(b))
		if err != nil {
			return optics.StructuredValue{}, err
		}
		if !ok {
			return optics.StructuredValue{}, fmt.Errorf("v8codec: not a hash url: %q", b)
		}
		return optics.HashURLValue(u), nil
	case tagSeq:
		n, err := readUint32(r)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		items := make([]optics.StructuredValue, n)
		for i := range items {
			items[i], err = readValue(r)
			if err != nil {
				return optics.StructuredValue{}, err
			}
		}
		return optics.Seq(items...), nil
	case tagMap:
		n, err := readUint32(r)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		m := make(map[string]optics.StructuredValue, n)
		keys := make([]string, n)
		for i := uint32(0); i < n; i++ {
			kb, err := readBytes(r)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			v, err := readValue(r)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			m[string(kb)] = v
			keys[i] = string(kb)
		}
		return optics.Map(m, keys), nil
	default:
		return optics.StructuredValue{}, fmt.Errorf("v8codec: unknown tag %d", tag)
	}
}

func writeUint64(buf *bytes.Buffer, u uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], u)
	buf.Write(tmp[:])
}

func writeUint32(buf *bytes.Buffer, u uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], u)
	buf.Write(tmp[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := readFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
