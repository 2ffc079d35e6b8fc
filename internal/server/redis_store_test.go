package server

import (
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"relaycast/internal/testsupport/redisstub"
)

func newStoreClient(t *testing.T) redis.UniversalClient {
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

func TestRedisConnectStoreAllow(t *testing.T) {
	store := NewRedisConnectStore(newStoreClient(t), 0)

	for i := 0; i < 3; i++ {
		ok, _, err := store.Allow("connect:10.0.0.1", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("attempt %d should pass", i+1)
		}
	}

	ok, retryAfter, err := store.Allow("connect:10.0.0.1", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("fourth attempt should be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry hint: %v", retryAfter)
	}
}

func TestRedisConnectStoreIsolatesKeys(t *testing.T) {
	store := NewRedisConnectStore(newStoreClient(t), 0)

	if ok, _, err := store.Allow("connect:a", 1, time.Minute); err != nil || !ok {
		t.Fatalf("first key should pass: ok=%v err=%v", ok, err)
	}
	if ok, _, _ := store.Allow("connect:a", 1, time.Minute); ok {
		t.Fatal("first key should now be limited")
	}
	if ok, _, err := store.Allow("connect:b", 1, time.Minute); err != nil || !ok {
		t.Fatalf("second key should pass: ok=%v err=%v", ok, err)
	}
}

func TestRedisConnectStoreLimitedByWiredLimiter(t *testing.T) {
	limiter := newRateLimiter(RateLimitConfig{
		ConnectLimit:  1,
		ConnectWindow: time.Minute,
		Store:         NewRedisConnectStore(newStoreClient(t), 0),
	})

	if ok, _, err := limiter.AllowConnect("10.0.0.1"); err != nil || !ok {
		t.Fatalf("first connect should pass: ok=%v err=%v", ok, err)
	}
	ok, retryAfter, err := limiter.AllowConnect("10.0.0.1")
	if err != nil {
		t.Fatalf("allow connect: %v", err)
	}
	if ok {
		t.Fatal("second connect should be limited by the shared store")
	}
	if retryAfter <= 0 {
		t.Fatalf("retry hint missing: %v", retryAfter)
	}
}
