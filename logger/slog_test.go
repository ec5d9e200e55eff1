package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSLogLoggerWritesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := NewSLogLogger(slog.New(h))

	l.Warn("cache set failed", "key", "user:t1:u1:permissions", "attempt", 2, "err", errors.New("boom"), "took", 3*time.Millisecond)

	out := buf.String()
	for _, want := range []string{"level=WARN", "cache set failed", "key=user:t1:u1:permissions", "attempt=2", "err=boom", "took=3ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestSLogLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	l := NewSLogLogger(slog.New(h))
	l.Debug("hidden", "k", "v")
	if buf.Len() != 0 {
		t.Fatalf("debug output should be suppressed, got %q", buf.String())
	}
}

func TestSLogLoggerDropsTrailingKey(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	l.Info("seeded", "roles", 4, "dangling")
	if out := buf.String(); !strings.Contains(out, "roles=4") || strings.Contains(out, "dangling") || strings.Contains(out, "BADKEY") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNullLoggerSatisfiesInterface(t *testing.T) {
	var l Logger = NewNullLogger()
	l.Error("ignored", "k", 1)
}
