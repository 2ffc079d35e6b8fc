package counter

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryCounter(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	value, err := c.Value(ctx)
	if err != nil || value != 0 {
		t.Fatalf("fresh counter should be zero: %d err=%v", value, err)
	}

	for i := int64(1); i <= 3; i++ {
		got, err := c.Increment(ctx)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != i {
			t.Fatalf("unexpected value: got %d want %d", got, i)
		}
	}
}

func TestMemoryCounterConcurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	var wg sync.WaitGroup
	workers := 50
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := c.Increment(ctx); err != nil {
					t.Errorf("increment: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	value, err := c.Value(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != int64(workers*10) {
		t.Fatalf("unexpected total: got %d want %d", value, workers*10)
	}
}
