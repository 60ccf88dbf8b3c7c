package store

import (
	"context"
	"testing"

	"github.com/hyperjump/kensaku/internal/config"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.StoreConfig{Backend: "memory"}, 8, "mock")
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	// Empty backend defaults to memory.
	s2, err := New(ctx, config.StoreConfig{}, 8, "mock")
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	defer s2.Close()

	if _, err := New(ctx, config.StoreConfig{Backend: "cassandra"}, 8, "mock"); err == nil {
		t.Error("expected error for unknown backend")
	}
}
