package storage

import (
	"context"
	"errors"
	"testing"
)

func TestFSBlobStoreRoundTrip(t *testing.T) {
	store := NewFSBlobStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Read(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read missing: got %v, want ErrNotFound", err)
	}

	if err := store.Write(ctx, "nested/sessions.json", []byte("first")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write(ctx, "nested/sessions.json", []byte("second")); err != nil {
		t.Fatalf("Write again: %v", err)
	}

	got, err := store.Read(ctx, "nested/sessions.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}
}
