package logger

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelsAndFlush(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() { log.SetOutput(os.Stderr); log.SetFlags(log.LstdFlags) })
	SetPrefix("test")
	t.Cleanup(func() { SetPrefix("") })
	SetLevel("warn")
	t.Cleanup(func() { SetLevel("info") })

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	Errorf("boom")
	Flush(time.Second)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[test] WARN: shown 2")
	assert.Contains(t, out, "[test] ERROR: boom")
	assert.Less(t, strings.Index(out, "shown"), strings.Index(out, "boom"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, levelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, levelWarn, parseLevel("warning"))
	assert.Equal(t, levelError, parseLevel("error"))
	assert.Equal(t, levelInfo, parseLevel("verbose"))
}
