package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	s := NewStore(mr.Addr(), time.Hour)
	defer s.Close()
	if !s.Enabled() {
		t.Fatal("Expected store to be connected")
	}

	ctx := context.Background()
	uri := "https://b.com/ap/@bob"

	if _, ok := s.Get(ctx, uri); ok {
		t.Error("Expected miss before Set")
	}

	s.Set(ctx, uri, []byte(`{"preferredUsername":"bob"}`))
	doc, ok := s.Get(ctx, uri)
	if !ok || string(doc) != `{"preferredUsername":"bob"}` {
		t.Errorf("Unexpected cached doc %q (ok=%v)", doc, ok)
	}

	if !mr.Exists(keyPrefix + uri) {
		t.Error("Expected key to carry the rabble prefix")
	}

	s.Delete(ctx, uri)
	if _, ok := s.Get(ctx, uri); ok {
		t.Error("Expected miss after Delete")
	}
}

func TestStoreExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	s := NewStore("redis://"+mr.Addr(), time.Minute)
	defer s.Close()

	ctx := context.Background()
	s.Set(ctx, "https://b.com/ap/@bob", []byte("{}"))
	mr.FastForward(2 * time.Minute)

	if _, ok := s.Get(ctx, "https://b.com/ap/@bob"); ok {
		t.Error("Expected entry to expire after ttl")
	}
}

func TestStoreWithoutBackend(t *testing.T) {
	s := NewStore("", time.Hour)
	if s.Enabled() {
		t.Fatal("Expected disabled store")
	}

	ctx := context.Background()
	s.Set(ctx, "x", []byte("y"))
	if _, ok := s.Get(ctx, "x"); ok {
		t.Error("Disabled store should always miss")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on disabled store failed: %v", err)
	}

	var nilStore *Store
	if _, ok := nilStore.Get(ctx, "x"); ok {
		t.Error("nil store should always miss")
	}
}

func TestStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	s := NewStore(addr, time.Hour)
	if s.Enabled() {
		t.Error("Expected store to fall back to disabled when redis is down")
	}
}
