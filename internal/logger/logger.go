// Package logger writes prefixed log lines from a background goroutine
// so logging never blocks the client event loop or the relay hub.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const queueSize = 8192

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var (
	prefix   atomic.Value
	minLevel atomic.Int32
	dropped  atomic.Int64

	startOnce sync.Once
	queue     chan string
	pending   atomic.Int64
)

func init() {
	minLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
}

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func start() {
	queue = make(chan string, queueSize)
	go func() {
		for msg := range queue {
			if n := dropped.Swap(0); n > 0 {
				log.Printf("%slogger: dropped %d messages", tag(), n)
			}
			log.Print(msg)
			pending.Add(-1)
		}
	}()
}

func enqueue(lv level, msg string) {
	if lv < level(minLevel.Load()) {
		return
	}
	startOnce.Do(start)
	pending.Add(1)
	select {
	case queue <- msg:
	default:
		// Queue full: the line is dropped and counted in the next one written.
		pending.Add(-1)
		dropped.Add(1)
	}
}

// SetPrefix sets the prefix of later lines ("relay", "rtcli").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel overrides the LOG_LEVEL level with the configured one.
func SetLevel(s string) {
	minLevel.Store(int32(parseLevel(s)))
}

// Flush waits up to timeout for the queue to be written.
func Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for pending.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

// Warnf is for errors the component handled itself.
func Warnf(format string, v ...any) {
	enqueue(levelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// Fatalf logs, flushes the queue and exits with status 1.
func Fatalf(format string, v ...any) {
	Errorf(format, v...)
	Flush(2 * time.Second)
	os.Exit(1)
}

// LogDuration logs how long fn took: always at debug, otherwise only past 100ms.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if level(minLevel.Load()) == levelDebug || elapsed >= 100*time.Millisecond {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("msg.Create", time.Now())()
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
