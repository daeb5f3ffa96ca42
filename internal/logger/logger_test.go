package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects logger output to a buffer and restores the previous
// writer, level and format when the test ends.
func capture(t *testing.T, lvl, fmtName string) *bytes.Buffer {
	t.Helper()

	mu.RLock()
	prevOut, prevColor, prevFormat := output, useColor, format
	mu.RUnlock()
	prevLevel := GetLevel()

	buf := new(bytes.Buffer)
	InitWithWriter(buf, lvl, fmtName, false)

	t.Cleanup(func() {
		InitWithWriter(prevOut, prevLevel, prevFormat, prevColor)
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf := capture(t, "DEBUG", "text")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		for _, want := range []string{"[DEBUG] debug message", "[INFO] info message", "[WARN] warn message", "[ERROR] error message"} {
			assert.Contains(t, out, want)
		}
	})

	t.Run("WarnLevelFiltersDebugAndInfo", func(t *testing.T) {
		buf := capture(t, "WARN", "text")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("ErrorLevelShowsOnlyErrors", func(t *testing.T) {
		buf := capture(t, "ERROR", "text")

		Warn("warn message")
		Error("error message")

		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	})
}

func TestSetLevel(t *testing.T) {
	t.Run("IsCaseInsensitive", func(t *testing.T) {
		_ = capture(t, "INFO", "text")
		SetLevel("debug")
		assert.Equal(t, "DEBUG", GetLevel())
	})

	t.Run("IgnoresInvalidValues", func(t *testing.T) {
		_ = capture(t, "WARN", "text")
		SetLevel("LOUD")
		assert.Equal(t, "WARN", GetLevel())
	})

	t.Run("AcceptsWarningAlias", func(t *testing.T) {
		_ = capture(t, "INFO", "text")
		SetLevel("warning")
		assert.Equal(t, "WARN", GetLevel())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{" info ", slog.LevelInfo, false},
		{"Warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextFormatting(t *testing.T) {
	t.Run("WritesTimestampLevelAndFields", func(t *testing.T) {
		buf := capture(t, "INFO", "text")

		Info("cache ready", Driver("redis"), Attempt(3))

		line := buf.String()
		assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[INFO\] cache ready`, line)
		assert.Contains(t, line, "driver=redis")
		assert.Contains(t, line, "attempt=3")
	})

	t.Run("QuotesValuesWithSpaces", func(t *testing.T) {
		buf := capture(t, "INFO", "text")

		Info("failed", Err(errors.New("connection refused")))

		assert.Contains(t, buf.String(), `error="connection refused"`)
	})

	t.Run("DropsNilError", func(t *testing.T) {
		buf := capture(t, "INFO", "text")

		Info("ok", Err(nil))

		assert.NotContains(t, buf.String(), "error=")
	})

	t.Run("QualifiesGroupedKeys", func(t *testing.T) {
		buf := capture(t, "INFO", "text")

		Logger().WithGroup("redis").Info("connected", "addr", "cache:6379")

		assert.Contains(t, buf.String(), "redis.addr=cache:6379")
	})

	t.Run("KeepsBoundAttrs", func(t *testing.T) {
		buf := capture(t, "INFO", "text")

		With(KeyService, "server").Info("listening")

		assert.Contains(t, buf.String(), "service=server")
	})
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, "INFO", "json")

	Info("request", Method("GET"), Status(200))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "request", rec["msg"])
	assert.Equal(t, "GET", rec[KeyMethod])
	assert.EqualValues(t, 200, rec[KeyStatus])
}

func TestContextFields(t *testing.T) {
	t.Run("PrependsLogContext", func(t *testing.T) {
		buf := capture(t, "DEBUG", "text")

		lc := NewLogContext("req-1", "10.0.0.7").WithRoute("/api/v1/cache/{key}")
		ctx := WithContext(context.Background(), lc)

		InfoCtx(ctx, "handled", Status(204))

		line := buf.String()
		assert.Contains(t, line, "request_id=req-1")
		assert.Contains(t, line, "client_ip=10.0.0.7")
		assert.Contains(t, line, "route=/api/v1/cache/{key}")
		assert.Less(t, strings.Index(line, "request_id"), strings.Index(line, "status"))
	})

	t.Run("WithoutLogContext", func(t *testing.T) {
		buf := capture(t, "DEBUG", "text")

		WarnCtx(context.Background(), "plain")

		assert.Contains(t, buf.String(), "[WARN] plain")
		assert.NotContains(t, buf.String(), "request_id")
	})

	t.Run("WithTraceDoesNotMutateOriginal", func(t *testing.T) {
		lc := NewLogContext("req-2", "")
		traced := lc.WithTrace("abc", "def")

		assert.Empty(t, lc.TraceID)
		assert.Equal(t, "abc", traced.TraceID)
		assert.Equal(t, "def", traced.SpanID)
	})

	t.Run("NilLogContextIsSafe", func(t *testing.T) {
		var lc *LogContext
		assert.Nil(t, lc.WithRoute("/x"))
		assert.Zero(t, lc.DurationMs())
		assert.Nil(t, FromContext(context.Background()))
	})
}

func TestInit(t *testing.T) {
	t.Run("RejectsInvalidLevel", func(t *testing.T) {
		_ = capture(t, "INFO", "text")
		assert.Error(t, Init(Config{Level: "verbose"}))
	})

	t.Run("RejectsInvalidFormat", func(t *testing.T) {
		_ = capture(t, "INFO", "text")
		assert.Error(t, Init(Config{Format: "xml"}))
	})

	t.Run("WritesToFile", func(t *testing.T) {
		_ = capture(t, "INFO", "text")
		path := filepath.Join(t.TempDir(), "stackd.log")

		require.NoError(t, Init(Config{Level: "INFO", Format: "json", Output: path}))
		Info("to file")
		require.NoError(t, Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"to file"`)
	})
}

func TestConcurrentLogging(t *testing.T) {
	buf := &lockedBuffer{}
	mu.RLock()
	prevOut := output
	mu.RUnlock()
	InitWithWriter(buf, "INFO", "text", false)
	t.Cleanup(func() { InitWithWriter(prevOut, "INFO", "text", false) })

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 50 {
				Info("concurrent", "goroutine", n, "iteration", j)
				if j%10 == 0 {
					SetLevel("INFO")
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, strings.Count(buf.String(), "\n"))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
