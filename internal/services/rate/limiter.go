// Package rate caps how often one user may trigger costly writes such as
// opening a checkout or submitting a connection request.
package rate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Window allows at most Max hits per user within Length.
type Window struct {
	Length time.Duration
	Max    int
}

type Limiter struct {
	store   WindowStore
	windows []Window
}

// NewLimiter drops windows with a non-positive length or limit.
func NewLimiter(store WindowStore, windows ...Window) *Limiter {
	valid := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w.Length > 0 && w.Max > 0 {
			valid = append(valid, w)
		}
	}
	return &Limiter{store: store, windows: valid}
}

// Allow counts one hit of action for userID in every window. When any window
// is exhausted it returns the seconds until the longest one resets.
func (l *Limiter) Allow(ctx context.Context, action string, userID int64) (int64, bool, error) {
	if userID <= 0 {
		return 0, false, fmt.Errorf("invalid user id")
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return 0, false, fmt.Errorf("rate action is required")
	}
	if len(l.windows) == 0 {
		return 0, true, nil
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)
	for _, w := range l.windows {
		count, ttl, err := l.store.IncrementWindow(ctx, windowKey(action, userID, w.Length), w.Length)
		if err != nil {
			return 0, false, err
		}
		if count > int64(w.Max) {
			retryAfterSec = max(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}
	return 0, true, nil
}

func windowKey(action string, userID int64, length time.Duration) string {
	return "rate:" + action + ":" + length.String() + ":" + strconv.FormatInt(userID, 10)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	return sec
}
