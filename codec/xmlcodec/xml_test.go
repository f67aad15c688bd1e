package xmlcodec_test

import (
	"testing"
	"time"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec/xmlcodec"
)

func TestRoundTrip(t *testing.T) {
	h := optics.SumHash([]byte("x"))
	v := optics.Map(map[string]optics.StructuredValue{
		"s": optics.String("hello <world>"),
		"i": optics.Int(-3),
		"f": optics.Float(1.5),
		"b": optics.Bool(false),
		"n": optics.Null(),
		"t": optics.Time(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
		"u": optics.HashURLValue(optics.NewHashURL(h, "")),
		"l": optics.Seq(optics.Int(1), optics.String("two")),
		"bytes": optics.Bytes([]byte{1, 2, 3}),
	}, []string{"s", "i", "f", "b", "n", "t", "u", "l", "bytes"})

	b, err := xmlcodec.Codec.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	got, err := xmlcodec.Codec.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !optics.Equal(v, got) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v\nXML:\n%s", v, got, b)
	}
}

func TestDecodeInvalidXML(t *testing.T) {
	if _, err := xmlcodec.Codec.Decode([]byte(`<object><member name="a">`)); err == nil {
		t.Error("expected an error decoding truncated XML")
	}
}

func TestDecodeUnknownElement(t *testing.T) {
	if _, err := xmlcodec.Codec.Decode([]byte(`<bogus/>`)); err == nil {
		t.Error("expected an error decoding an unrecognized element")
	}
}

func TestMediaTypesAndExtensions(t *testing.T) {
	mts := xmlcodec.Codec.MediaTypes()
	found := false
	for _, mt := range mts {
		if mt == "application/xml" {
			found = true
		}
	}
	if !found {
		t.Errorf("MediaTypes() = %v, want application/xml", mts)
	}
	if xmlcodec.Codec.Canonical() {
		t.Error("xml codec must not be canonical")
	}
}
