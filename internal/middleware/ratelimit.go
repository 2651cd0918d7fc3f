package middleware

import (
	"net/http"
	"sync"
	"time"
)

const (
	DefaultRateWindow  = time.Minute
	DefaultRatePerIP   = 200
	DefaultRatePerUser = 100
)

// slidingWindow counts requests per key over a sliding window.
type slidingWindow struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{hits: make(map[string][]time.Time), limit: limit, window: window, now: time.Now}
}

func (s *slidingWindow) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	recent := prune(s.hits[key], now.Add(-s.window))
	if len(recent) >= s.limit {
		s.hits[key] = recent
		return false
	}
	s.hits[key] = append(recent, now)
	s.sweep(now)
	return true
}

// sweep drops keys with no requests left in the window. It runs only once the map
// has grown, not on every request.
func (s *slidingWindow) sweep(now time.Time) {
	if len(s.hits) < 1024 {
		return
	}
	cutoff := now.Add(-s.window)
	for k, ts := range s.hits {
		if len(prune(ts, cutoff)) == 0 {
			delete(s.hits, k)
		}
	}
}

// size is the number of tracked keys.
func (s *slidingWindow) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for _, t := range ts {
		if t.After(cutoff) {
			ts[i] = t
			i++
		}
	}
	return ts[:i]
}

// RateLimit caps requests per IP and per user_id, answering 429 over the limit.
// Mount it after chi RealIP (the IP comes from RemoteAddr) and after BearerAuth.
func RateLimit(perIP, perUser int, window time.Duration) func(http.Handler) http.Handler {
	byIP := newSlidingWindow(perIP, window)
	byUser := newSlidingWindow(perUser, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.allow(clientIP(r)) {
				jsonError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			if userID := GetUserID(r.Context()); userID != "" && !byUser.allow(userID) {
				jsonError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
