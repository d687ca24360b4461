package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type fakeCounter struct {
	counts  map[string]int64
	ttls    map[string]time.Duration
	incrErr error
	expires []string
	closed  bool
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expires = append(f.expires, key)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCounter) TTL(_ context.Context, key string) *redis.DurationCmd {
	ttl, ok := f.ttls[key]
	if !ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(ttl, nil)
}

func (f *fakeCounter) Close() error {
	f.closed = true
	return nil
}

func newFakeRedisLimiter(counter *fakeCounter) *redisRateLimiter {
	return newRedisRateLimiter(counter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRedisRateLimiterFixedWindow(t *testing.T) {
	counter := newFakeCounter()
	rl := newFakeRedisLimiter(counter)

	for i := 1; i <= 2; i++ {
		d := rl.Allow("refresh:ip:10.0.0.1", 2, time.Minute)
		if !d.allowed || d.count != i {
			t.Fatalf("request %d: expected allowed with count %d, got %+v", i, i, d)
		}
	}
	d := rl.Allow("refresh:ip:10.0.0.1", 2, time.Minute)
	if d.allowed || d.count != 3 {
		t.Fatalf("expected third request rejected, got %+v", d)
	}
	if until := time.Until(d.windowEnd); until <= 0 || until > time.Minute {
		t.Fatalf("expected window end within a minute, got %s", until)
	}
	if len(counter.expires) != 1 || counter.expires[0] != "tweetwatch:ratelimit:refresh:ip:10.0.0.1" {
		t.Fatalf("expected one expire on the prefixed key, got %v", counter.expires)
	}

	if d := rl.Allow("refresh:ip:10.0.0.2", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("expected separate key to start fresh, got %+v", d)
	}
}

func TestRedisRateLimiterRearmsMissingExpiry(t *testing.T) {
	counter := newFakeCounter()
	key := "tweetwatch:ratelimit:refresh:ip:10.0.0.1"
	counter.counts[key] = 5
	rl := newFakeRedisLimiter(counter)

	rl.Allow("refresh:ip:10.0.0.1", 10, 30*time.Second)
	if counter.ttls[key] != 30*time.Second {
		t.Fatalf("expected expiry restored, got %v", counter.ttls)
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	counter := newFakeCounter()
	counter.incrErr = errors.New("connection refused")
	rl := newFakeRedisLimiter(counter)

	if d := rl.Allow("refresh:ip:10.0.0.1", 1, time.Minute); !d.allowed {
		t.Fatalf("expected requests allowed while redis is down, got %+v", d)
	}
	rl.Close()
	if !counter.closed {
		t.Fatalf("expected client closed")
	}
}
