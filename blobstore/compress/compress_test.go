package compress_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/blobstore/compress"
	"github.com/bobg/pigeon-optics/blobstore/file"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "compress")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	inner := file.New(dir)
	s, err := compress.New(inner)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	data := bytes.Repeat([]byte("pigeon optics compresses well when repeated "), 64)

	h, err := s.Write(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	want := optics.SumHash(data)
	if h != want {
		t.Errorf("Write hash = %v, want %v (must hash uncompressed bytes)", h, want)
	}

	got, err := s.Read(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Read did not return the original uncompressed bytes")
	}

	// The bytes on disk, read through the nested store directly, must be
	// smaller than the original (and different), proving compression
	// actually happened.
	raw, err := inner.Read(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) >= len(data) {
		t.Errorf("stored bytes (%d) not smaller than original (%d)", len(raw), len(data))
	}
}

func TestReadStreamRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "compress")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	inner := file.New(dir)
	s, err := compress.New(inner)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	data := []byte("streamed through gzip and back")

	h, err := s.WriteIter(ctx, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	rc, err := s.ReadStream(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadStream = %q, want %q", got, data)
	}
}

func TestWriteIdempotent(t *testing.T) {
	dir, err := os.MkdirTemp("", "compress")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	inner := file.New(dir)
	s, err := compress.New(inner)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	data := []byte("written twice")

	h1, err := s.Write(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Write(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("Write not idempotent: %v != %v", h1, h2)
	}
}

// stubStore implements blobstore.Store but not blobstore.RawWriter, to
// exercise New's rejection path.
type stubStore struct{}

func (stubStore) Write(context.Context, []byte) (optics.Hash, error) { return optics.Hash{}, nil }
func (stubStore) WriteIter(context.Context, io.Reader) (optics.Hash, error) {
	return optics.Hash{}, nil
}
func (stubStore) Read(context.Context, optics.Hash) ([]byte, error) { return nil, nil }
func (stubStore) ReadStream(context.Context, optics.Hash) (io.ReadCloser, error) {
	return nil, nil
}
func (stubStore) Exists(context.Context, optics.Hash) (bool, error) { return false, nil }
func (stubStore) Delete(context.Context, optics.Hash) error         { return nil }
func (stubStore) Retain(context.Context, map[optics.Hash]bool) error { return nil }
func (stubStore) GetPath(optics.Hash) string                        { return "" }

func TestNewRejectsNonRawWriter(t *testing.T) {
	if _, err := compress.New(stubStore{}); err == nil {
		t.Error("expected New to reject a Store without RawWriter")
	}
}
