package cbor_test

import (
	"testing"
	"time"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec/cbor"
)

func roundTrip(t *testing.T, v optics.StructuredValue) optics.StructuredValue {
	t.Helper()
	b, err := cbor.Codec.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := cbor.Codec.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	h := optics.SumHash([]byte("attachment"))
	v := optics.Map(map[string]optics.StructuredValue{
		"name":  optics.String("pigeon"),
		"count": optics.Int(3),
		"ratio": optics.Float(0.5),
		"tags":  optics.Seq(optics.String("a"), optics.String("b")),
		"when":  optics.Time(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)),
		"blob":  optics.HashURLValue(optics.NewHashURL(h, "image/png")),
		"empty": optics.Null(),
		"flag":  optics.Bool(true),
		"raw":   optics.Bytes([]byte{1, 2, 3}),
	}, nil)

	got := roundTrip(t, v)
	if !optics.Equal(v, got) {
		t.Errorf("round trip produced a different value:\nwant %+v\ngot  %+v", v, got)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	v := optics.Map(map[string]optics.StructuredValue{
		"z": optics.Int(1),
		"a": optics.Int(2),
		"m": optics.Int(3),
	}, nil)

	b1, err := cbor.Codec.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := cbor.Codec.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) {
		t.Error("two encodings of the same value produced different bytes")
	}

	// Key order in the in-memory representation must not affect the
	// encoded bytes, since the object hash depends only on content.
	vReordered := optics.Map(map[string]optics.StructuredValue{
		"a": optics.Int(2),
		"m": optics.Int(3),
		"z": optics.Int(1),
	}, []string{"a", "m", "z"})
	b3, err := cbor.Codec.Encode(vReordered)
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b3) {
		t.Error("encoding the same map with a different MapKeys order produced different bytes")
	}
}

func TestEncodeCyclicFails(t *testing.T) {
	seq := make([]optics.StructuredValue, 1)
	v := optics.StructuredValue{Kind: optics.KindSeq, Seq: seq}
	seq[0] = v // a seq containing itself by shared backing slice

	if _, err := cbor.Codec.Encode(v); err == nil {
		t.Error("expected Encode to reject a cyclic structured value")
	}
}

func TestCanonicalFlag(t *testing.T) {
	if !cbor.Codec.Canonical() {
		t.Error("cbor.Codec.Canonical() = false, want true")
	}
}

func TestMediaTypesAndExtensions(t *testing.T) {
	if mts := cbor.Codec.MediaTypes(); len(mts) == 0 || mts[0] != "application/cbor" {
		t.Errorf("MediaTypes() = %v", mts)
	}
	if exts := cbor.Codec.Extensions(); len(exts) == 0 || exts[0] != "cbor" {
		t.Errorf("Extensions() = %v", exts)
	}
}
