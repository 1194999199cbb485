package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/funnytutor6/tutorconnect/internal/repo/redis"
)

func TestLimiterBlocksOnShortWindow(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	limiter := NewLimiter(redrepo.NewRateRepo(client),
		Window{Length: 10 * time.Second, Max: 2},
		Window{Length: time.Hour, Max: 100},
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		retryAfter, allowed, err := limiter.Allow(ctx, "checkout", 42)
		if err != nil {
			t.Fatalf("allow #%d: %v", i+1, err)
		}
		if !allowed || retryAfter != 0 {
			t.Fatalf("unexpected result on allow #%d: allowed=%v retry_after=%d", i+1, allowed, retryAfter)
		}
	}

	retryAfter, allowed, err := limiter.Allow(ctx, "checkout", 42)
	if err != nil {
		t.Fatalf("allow #3: %v", err)
	}
	if allowed || retryAfter <= 0 || retryAfter > 10 {
		t.Fatalf("expected block with retry_after in (0,10], got allowed=%v retry_after=%d", allowed, retryAfter)
	}

	mr.FastForward(11 * time.Second)

	if _, allowed, err := limiter.Allow(ctx, "checkout", 42); err != nil || !allowed {
		t.Fatalf("expected allow after window reset, got allowed=%v err=%v", allowed, err)
	}
}

func TestLimiterReportsLongestBlockedWindow(t *testing.T) {
	_, client := newMiniRedisClient(t)
	limiter := NewLimiter(redrepo.NewRateRepo(client),
		Window{Length: 10 * time.Second, Max: 1},
		Window{Length: time.Minute, Max: 1},
	)

	ctx := context.Background()
	if _, allowed, err := limiter.Allow(ctx, "connection", 7); err != nil || !allowed {
		t.Fatalf("first hit: allowed=%v err=%v", allowed, err)
	}
	retryAfter, allowed, err := limiter.Allow(ctx, "connection", 7)
	if err != nil {
		t.Fatalf("second hit: %v", err)
	}
	if allowed || retryAfter <= 10 {
		t.Fatalf("expected minute window to dominate, got allowed=%v retry_after=%d", allowed, retryAfter)
	}
}

func TestLimiterKeepsActionsAndUsersApart(t *testing.T) {
	_, client := newMiniRedisClient(t)
	limiter := NewLimiter(redrepo.NewRateRepo(client), Window{Length: time.Minute, Max: 1})

	ctx := context.Background()
	for _, hit := range []struct {
		action string
		userID int64
	}{
		{"checkout", 1},
		{"connection", 1},
		{"checkout", 2},
	} {
		if _, allowed, err := limiter.Allow(ctx, hit.action, hit.userID); err != nil || !allowed {
			t.Fatalf("%s/%d: allowed=%v err=%v", hit.action, hit.userID, allowed, err)
		}
	}
}

func TestLimiterWithoutWindowsAllows(t *testing.T) {
	limiter := NewLimiter(nil, Window{Length: 0, Max: 5})
	if _, allowed, err := limiter.Allow(context.Background(), "checkout", 1); err != nil || !allowed {
		t.Fatalf("expected allow, got allowed=%v err=%v", allowed, err)
	}
}

func TestLimiterPropagatesStoreErrors(t *testing.T) {
	limiter := NewLimiter(failingStore{}, Window{Length: time.Minute, Max: 5})
	if _, _, err := limiter.Allow(context.Background(), "checkout", 1); err == nil {
		t.Fatalf("expected store error")
	}
}

type failingStore struct{}

func (failingStore) IncrementWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis unavailable")
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}
