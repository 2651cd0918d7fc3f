package middleware

import (
	"net/http"
	"time"

	"github.com/rtchat/internal/logger"
)

// RequestLog logs method, path, status and duration of each request.
// 5xx go to error, /ws upgrades to info, the rest to debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		status := sw.code()
		switch {
		case status >= http.StatusInternalServerError:
			logger.Errorf("http %s %s status=%d in %v", r.Method, r.URL.Path, status, time.Since(start))
		case status == http.StatusSwitchingProtocols:
			logger.Infof("ws upgrade %s from %s", r.URL.Path, r.RemoteAddr)
		default:
			logger.Debugf("http %s %s status=%d in %v", r.Method, r.URL.Path, status, time.Since(start))
		}
	})
}
