package jsonlcodec_test

import (
	"testing"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec/jsonlcodec"
)

func TestRoundTrip(t *testing.T) {
	v := optics.Seq(
		optics.Map(map[string]optics.StructuredValue{"id": optics.String("a")}, []string{"id"}),
		optics.Map(map[string]optics.StructuredValue{"id": optics.String("b")}, []string{"id"}),
	)

	b, err := jsonlcodec.Codec.Encode(v)
	if err != nil {
		t.Fatal(err)
	}

	got, err := jsonlcodec.Codec.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !optics.Equal(v, got) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", v, got)
	}
}

func TestEncodeRejectsNonSeq(t *testing.T) {
	if _, err := jsonlcodec.Codec.Encode(optics.Int(1)); err == nil {
		t.Error("expected Encode to reject a non-sequence value")
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	got, err := jsonlcodec.Codec.Decode([]byte("1\n\n2\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := optics.Seq(optics.Int(1), optics.Int(2))
	if !optics.Equal(want, got) {
		t.Errorf("Decode = %+v, want %+v", got, want)
	}
}
