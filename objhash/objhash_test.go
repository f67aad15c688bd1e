package objhash_test

import (
	"testing"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/objhash"
)

func TestObjectHashDeterministic(t *testing.T) {
	v := optics.Map(map[string]optics.StructuredValue{
		"b": optics.Int(2),
		"a": optics.Int(1),
	}, []string{"b", "a"})

	h1, err := objhash.ObjectHash(v)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := objhash.ObjectHash(v)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("ObjectHash not deterministic: %v != %v", h1, h2)
	}

	// Key order must not affect the hash since CBOR canonicalization sorts keys.
	reordered := optics.Map(map[string]optics.StructuredValue{
		"a": optics.Int(1),
		"b": optics.Int(2),
	}, []string{"a", "b"})
	h3, err := objhash.ObjectHash(reordered)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h3 {
		t.Errorf("ObjectHash depends on map key order: %v != %v", h1, h3)
	}
}

func TestEncodeDecodeRoundTripDataset(t *testing.T) {
	s := objhash.Encode("local", "alice", "my photos")
	const want = "pigeon-optics:/local/alice:my%20photos"
	if s != want {
		t.Errorf("Encode = %q, want %q", s, want)
	}

	source, user, name, recordID, err := objhash.Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	if source != "local" || user != "alice" || name != "my photos" || recordID != "" {
		t.Errorf("Decode = (%q, %q, %q, %q), want (local, alice, \"my photos\", \"\")", source, user, name, recordID)
	}
}

func TestEncodeDecodeRoundTripRecord(t *testing.T) {
	s := objhash.Encode("local", "alice", "dataset", "rec:1")
	source, user, name, recordID, err := objhash.Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	if source != "local" || user != "alice" || name != "dataset" || recordID != "rec:1" {
		t.Errorf("Decode = (%q, %q, %q, %q), want (local, alice, dataset, \"rec:1\")", source, user, name, recordID)
	}
}

func TestDecodeMissingPrefix(t *testing.T) {
	if _, _, _, _, err := objhash.Decode("not-a-pigeon-url"); err == nil {
		t.Error("expected an error for a string lacking the pigeon-optics: prefix")
	}
}

func TestDecodeMissingUserNameSegment(t *testing.T) {
	if _, _, _, _, err := objhash.Decode("pigeon-optics:/local/alice"); err == nil {
		t.Error("expected an error when the user:name segment has no colon")
	}
}

func TestPathSplitPathRoundTrip(t *testing.T) {
	p := objhash.Path("local", "alice", "dataset", "rec1")
	source, user, name, recordID, err := objhash.SplitPath(p)
	if err != nil {
		t.Fatal(err)
	}
	if source != "local" || user != "alice" || name != "dataset" || recordID != "rec1" {
		t.Errorf("SplitPath(%q) = (%q, %q, %q, %q)", p, source, user, name, recordID)
	}
}

func TestSplitPathWithoutRecordID(t *testing.T) {
	source, user, name, recordID, err := objhash.SplitPath("local/alice/dataset")
	if err != nil {
		t.Fatal(err)
	}
	if source != "local" || user != "alice" || name != "dataset" || recordID != "" {
		t.Errorf("SplitPath = (%q, %q, %q, %q), want empty recordID", source, user, name, recordID)
	}
}

func TestSplitPathTooShort(t *testing.T) {
	if _, _, _, _, err := objhash.SplitPath("local/alice"); err == nil {
		t.Error("expected an error for a path missing the name segment")
	}
}
