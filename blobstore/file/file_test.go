package file

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/bobg/pigeon-optics"
)

func TestWriteReadIdempotent(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	ctx := context.Background()
	data := []byte("hello, pigeon")

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

	got, err := s.Read(ctx, h1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read = %q, want %q", got, data)
	}
}

func TestReadStream(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	ctx := context.Background()
	data := []byte("streamed content")

	h, err := s.Write(ctx, data)
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

func TestWriteIter(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	ctx := context.Background()
	data := []byte("iterated content, streamed in")

	h, err := s.WriteIter(ctx, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	want := optics.SumHash(data)
	if h != want {
		t.Errorf("WriteIter hash = %v, want %v", h, want)
	}

	got, err := s.Read(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read after WriteIter = %q, want %q", got, data)
	}
}

func TestExistsAndDelete(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	ctx := context.Background()
	data := []byte("ephemeral")

	h, err := s.Write(ctx, data)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Exists(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Exists = false after Write, want true")
	}

	if err := s.Delete(ctx, h); err != nil {
		t.Fatal(err)
	}

	ok, err = s.Exists(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Exists = true after Delete, want false")
	}

	// Deleting an absent hash is not an error.
	if err := s.Delete(ctx, h); err != nil {
		t.Errorf("Delete of absent hash returned %v, want nil", err)
	}
}

func TestReadMissingReturnsErrNotFound(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	ctx := context.Background()
	h := optics.SumHash([]byte("never written"))

	if _, err := s.Read(ctx, h); err != optics.ErrNotFound {
		t.Errorf("Read of missing blob = %v, want %v", err, optics.ErrNotFound)
	}
}

func TestRetainSweepsUnkept(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	ctx := context.Background()

	hKeep, err := s.Write(ctx, []byte("keep me"))
	if err != nil {
		t.Fatal(err)
	}
	hDrop, err := s.Write(ctx, []byte("drop me"))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Retain(ctx, map[optics.Hash]bool{hKeep: true}); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Exists(ctx, hKeep)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Retain deleted a kept hash")
	}

	ok, err = s.Exists(ctx, hDrop)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Retain did not delete an unkept hash")
	}
}

func TestWriteAt(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	ctx := context.Background()
	h := optics.SumHash([]byte("logical content"))
	encoded := []byte("some other bytes entirely")

	if err := s.WriteAt(ctx, h, encoded); err != nil {
		t.Fatal(err)
	}

	got, err := s.Read(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, encoded) {
		t.Errorf("Read after WriteAt = %q, want %q", got, encoded)
	}
}
