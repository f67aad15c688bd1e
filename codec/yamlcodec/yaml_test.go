package yamlcodec_test

import (
	"testing"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec/yamlcodec"
)

func TestRoundTrip(t *testing.T) {
	v := optics.Map(map[string]optics.StructuredValue{
		"name":  optics.String("pigeon"),
		"count": optics.Int(3),
		"tags":  optics.Seq(optics.String("a"), optics.String("b")),
		"nested": optics.Map(map[string]optics.StructuredValue{
			"flag": optics.Bool(true),
		}, []string{"flag"}),
	}, nil)

	b, err := yamlcodec.Codec.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	got, err := yamlcodec.Codec.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !optics.Equal(v, got) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v\nYAML:\n%s", v, got, b)
	}
}

func TestDecodeInvalidYAML(t *testing.T) {
	if _, err := yamlcodec.Codec.Decode([]byte("key: [unterminated")); err == nil {
		t.Error("expected an error decoding malformed YAML")
	}
}
