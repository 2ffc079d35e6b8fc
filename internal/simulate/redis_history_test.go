package simulate

import (
	"context"
	"fmt"
	"testing"

	redis "github.com/redis/go-redis/v9"

	"relaycast/internal/testsupport/redisstub"
)

func newHistoryClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{stub.Addr()}})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisHistoryAppendAndTrim(t *testing.T) {
	history := NewRedisHistory(newHistoryClient(t))
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		records := []ChatRecord{
			{Platform: "Twitch", Message: fmt.Sprintf("msg-%d-a", i)},
			{Platform: "YouTube", Message: fmt.Sprintf("msg-%d-b", i)},
		}
		if _, err := history.Append(ctx, "sess-1", records); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	window, err := history.Append(ctx, "sess-1", nil)
	if err != nil {
		t.Fatalf("read window: %v", err)
	}
	if len(window) != HistoryLimit {
		t.Fatalf("unexpected window size: got %d want %d", len(window), HistoryLimit)
	}
	if window[len(window)-1].Message != "msg-29-b" {
		t.Fatalf("newest record missing: %q", window[len(window)-1].Message)
	}
	if window[0].Message != "msg-5-a" {
		t.Fatalf("unexpected oldest record: %q", window[0].Message)
	}
}

func TestRedisHistoryClear(t *testing.T) {
	history := NewRedisHistory(newHistoryClient(t))
	ctx := context.Background()

	if _, err := history.Append(ctx, "sess-1", []ChatRecord{{Message: "hello"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := history.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	window, err := history.Append(ctx, "sess-1", nil)
	if err != nil {
		t.Fatalf("read window: %v", err)
	}
	if len(window) != 0 {
		t.Fatalf("history should be empty after clear: %+v", window)
	}
}

func TestRedisHistorySessionsDoNotLeak(t *testing.T) {
	history := NewRedisHistory(newHistoryClient(t))
	ctx := context.Background()

	if _, err := history.Append(ctx, "sess-a", []ChatRecord{{Message: "a"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	window, err := history.Append(ctx, "sess-b", []ChatRecord{{Message: "b"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(window) != 1 || window[0].Message != "b" {
		t.Fatalf("session windows leaked: %+v", window)
	}
}
