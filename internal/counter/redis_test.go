package counter

import (
	"context"
	"testing"

	redis "github.com/redis/go-redis/v9"

	"relaycast/internal/testsupport/redisstub"
)

func newStubClient(t *testing.T, opts redisstub.Options) redis.UniversalClient {
	t.Helper()
	stub, err := redisstub.Start(opts)
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{stub.Addr()},
		Password: opts.Password,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCounter(t *testing.T) {
	ctx := context.Background()
	c := NewRedis(newStubClient(t, redisstub.Options{}), "test:counter")

	value, err := c.Value(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != 0 {
		t.Fatalf("missing key should read as zero: %d", value)
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

	value, err = c.Value(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != 3 {
		t.Fatalf("unexpected final value: %d", value)
	}
}

func TestRedisCounterWithPassword(t *testing.T) {
	ctx := context.Background()
	c := NewRedis(newStubClient(t, redisstub.Options{Password: "hunter2"}), "")

	if _, err := c.Increment(ctx); err != nil {
		t.Fatalf("increment with auth: %v", err)
	}
}
