package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	body := []byte("print('hi')")

	info := ObjectInfo{ContentType: "application/zstd", Metadata: map[string]string{"Raw-Size": "11"}}
	if err := s.PutObject(ctx, "snapshots", "a/b.zst", body, info); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	body[0] = 'X'

	got, gotInfo, err := s.GetObject(ctx, "snapshots", "a/b.zst", 0)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if !bytes.Equal(got, []byte("print('hi')")) {
		t.Fatalf("stored object should not alias the caller buffer: %q", got)
	}
	if gotInfo.Size != 11 || gotInfo.ContentType != "application/zstd" || gotInfo.Metadata["raw-size"] != "11" {
		t.Fatalf("unexpected info: %+v", gotInfo)
	}
	if _, err := s.StatObject(ctx, "snapshots", "a/b.zst"); err != nil {
		t.Fatalf("StatObject: %v", err)
	}
}

func TestMemoryStorageLimits(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	if _, _, err := s.GetObject(ctx, "b", "missing", 0); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := s.StatObject(ctx, "b", "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.PutObject(ctx, "b", "k", []byte("abcdef"), ObjectInfo{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if _, _, err := s.GetObject(ctx, "b", "k", 4); !errors.Is(err, ErrObjectTooLarge) {
		t.Fatalf("expected ErrObjectTooLarge, got %v", err)
	}
	if err := s.PutObject(ctx, "b", "", nil, ObjectInfo{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
