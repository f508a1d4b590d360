package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// Interface compliance (compile-time assertion)
var _ Blob = (*InMemory)(nil)

func TestInMemoryGetMissingReturnsNotFound(t *testing.T) {
	s := NewInMemory()
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryPutGetRoundTrip(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := s.Put(ctx, "doc", []byte(`{"users":[]}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	data, err := s.Get(ctx, "doc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != `{"users":[]}` {
		t.Fatalf("unexpected document: %s", data)
	}
	// mutation safety (returned slice is a copy)
	data[0] = 'X'
	again, _ := s.Get(ctx, "doc")
	if string(again) != `{"users":[]}` {
		t.Fatalf("internal buffer mutated: %s", again)
	}
}

func TestInMemoryConcurrentAccess(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + (i % 5)))
			if err := s.Put(ctx, key, []byte{byte(i)}); err != nil {
				t.Errorf("put error: %v", err)
			}
			if _, err := s.Get(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
				t.Errorf("get error: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
