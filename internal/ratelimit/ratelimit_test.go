package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalBurstThenReject(t *testing.T) {
	l := NewLocal(1, 3)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "10.0.0.1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: %+v %v", i, d, err)
		}
	}
	d, _ := l.Allow(ctx, "10.0.0.1")
	if d.Allowed || d.RetryAfter <= 0 {
		t.Fatalf("expected rejection with retry-after, got %+v", d)
	}
	if d, _ := l.Allow(ctx, "10.0.0.2"); !d.Allowed {
		t.Fatalf("keys must not share a bucket")
	}

	now = now.Add(time.Second)
	if d, _ := l.Allow(ctx, "10.0.0.1"); !d.Allowed {
		t.Fatalf("token should refill after a second")
	}
}

func TestLocalSweepsIdleKeys(t *testing.T) {
	l := NewLocal(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a")
	now = now.Add(10 * time.Minute)
	_, _ = l.Allow(ctx, "b")
	if got := l.Len(); got != 1 {
		t.Fatalf("tracked keys = %d, want 1", got)
	}
}

func TestRedisFailsWithErrorWhenUnreachable(t *testing.T) {
	client, err := Connect("127.0.0.1:1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := NewRedis(client, 5, time.Minute).Allow(ctx, "k")
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if !d.Allowed {
		t.Fatalf("unreachable redis must fail open")
	}
}

func TestConnectParsesURL(t *testing.T) {
	client, err := Connect("redis://:pw@localhost:6380/2")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	opt := client.Options()
	if opt.Addr != "localhost:6380" || opt.DB != 2 || opt.Password != "pw" {
		t.Fatalf("unexpected options: %+v", opt)
	}
	if _, err := Connect("redis://%zz"); err == nil {
		t.Fatalf("expected parse error")
	}
}
