package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "mw-secret"

func TestTokenRoundTrip(t *testing.T) {
	token, err := IssueToken(secret, "alice", time.Hour)
	require.NoError(t, err)

	userID, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = ParseToken("other", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken(secret, "alice", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(secret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anon, err := IssueToken(secret, "", time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(secret, anon)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerAuth(t *testing.T) {
	var seen string
	h := BearerAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
	}))
	token, err := IssueToken(secret, "bob", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		query  string
		code   int
		user   string
	}{
		{name: "header", header: "Bearer " + token, code: http.StatusOK, user: "bob"},
		{name: "query", query: "?token=" + token, code: http.StatusOK, user: "bob"},
		{name: "missing", code: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", code: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/ws"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.user, seen)
		})
	}
}

func TestSlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	w := newSlidingWindow(2, time.Minute)
	w.now = func() time.Time { return now }

	assert.True(t, w.allow("a"))
	assert.True(t, w.allow("a"))
	assert.False(t, w.allow("a"))
	assert.True(t, w.allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, w.allow("a"))
}

func TestSlidingWindowSweepsIdleKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	w := newSlidingWindow(5, time.Minute)
	w.now = func() time.Time { return now }
	for i := 0; i < 1100; i++ {
		w.allow(fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 1100, w.size())

	now = now.Add(2 * time.Minute)
	w.allow("fresh")
	assert.Equal(t, 1, w.size())
}

func TestRateLimitPerIP(t *testing.T) {
	h := RateLimit(1, 10, time.Minute)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	serve := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
		req.RemoteAddr = ip + ":40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, serve("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, serve("10.0.0.1"))
	assert.Equal(t, http.StatusOK, serve("10.0.0.2"))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "abcdefgh***", MaskToken("abcdefghijklmnop"))
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	serve := func(remote, header string) int {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = remote
		if header != "" {
			req.Header.Set("X-Internal-Secret", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, serve("127.0.0.1:5555", ""))
	assert.Equal(t, http.StatusOK, serve("10.1.2.3:5555", ""))
	assert.Equal(t, http.StatusForbidden, serve("203.0.113.7:5555", ""))
	assert.Equal(t, http.StatusForbidden, serve("203.0.113.7:5555", "wrong"))
	assert.Equal(t, http.StatusOK, serve("203.0.113.7:5555", "s3cret"))
}
