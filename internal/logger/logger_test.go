package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func plain(buf *bytes.Buffer, level slog.Level) Logger {
	return New(buf, Options{Level: level, Format: FormatPretty, NoColor: true})
}

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, Options{Format: FormatJSON})
	log.Info("quantized", "tensor", "conv1.weight")

	out := buf.String()
	if !strings.Contains(out, `"tensor":"conv1.weight"`) {
		t.Fatalf("expected tensor attr in JSON output, got: %s", out)
	}
	if !strings.Contains(out, `"level":"INFO"`) {
		t.Fatalf("expected level INFO in output, got: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	for _, f := range []Format{FormatPretty, FormatText, FormatJSON} {
		var buf bytes.Buffer
		log := New(&buf, Options{Level: slog.LevelWarn, Format: f, NoColor: true})
		log.Info("hidden")
		log.Debug("hidden too")
		if buf.Len() > 0 {
			t.Fatalf("%s: expected no output below warn, got: %s", f, buf.String())
		}
		log.Warn("shown")
		if !strings.Contains(buf.String(), "shown") {
			t.Fatalf("%s: expected warn message, got: %s", f, buf.String())
		}
	}
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	plain(&buf, slog.LevelInfo).Info("simulation finished",
		"format", "ap_fixed<8,4>",
		"accuracy", 81.234567891,
		"note", "two words",
		"empty", "",
	)
	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Fatalf("expected no color codes, got: %q", out)
	}
	for _, want := range []string{
		"INFO  simulation finished",
		"format=ap_fixed<8,4>",
		"accuracy=81.2346",
		`note="two words"`,
		`empty=""`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") || strings.Count(out, "\n") != 1 {
		t.Fatalf("expected a single line, got %q", out)
	}
}

func TestPrettyColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	New(&buf, Options{Format: FormatPretty}).Error("boom")
	if !strings.Contains(buf.String(), ansiRed) {
		t.Fatalf("expected red level, got %q", buf.String())
	}
}

func TestPrettyWithAndGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := plain(&buf, slog.LevelDebug).With("run", "r1").WithGroup("quant").WithGroup("conv1")
	log.Debug("stats", "rmse", 0.5, slog.Group("range", "lo", -8, "hi", 7))

	out := buf.String()
	for _, want := range []string{"run=r1", "quant.conv1.rmse=0.5", "quant.conv1.range.lo=-8", "quant.conv1.range.hi=7"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestPrettyWithDoesNotLeak(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := plain(&buf, slog.LevelInfo).With("a", 1)
	base.With("b", 2).Info("first")
	base.Info("second")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if strings.Contains(lines[1], "b=2") {
		t.Fatalf("sibling attribute leaked: %q", lines[1])
	}
}

func TestPrettyDuration(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	plain(&buf, slog.LevelInfo).Info("done", "elapsed", 1234567*time.Microsecond)
	if !strings.Contains(buf.String(), "elapsed=1.235s") {
		t.Fatalf("expected rounded duration, got %q", buf.String())
	}
}

func TestEmptyGroupReturnsSameHandler(t *testing.T) {
	t.Parallel()
	h := newPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{}, false)
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("WithGroup(\"\") should return the receiver")
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), New(&buf, Options{Format: FormatJSON}))
	FromContext(ctx).Info("roundtrip")
	if !strings.Contains(buf.String(), "roundtrip") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
	Discard().Error("dropped")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{" error ", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q): got %v, %v", tt.in, got, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Fatalf("ParseFormat(JSON): got %q, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatPretty {
		t.Fatalf("ParseFormat(\"\"): got %q, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("expected error for xml")
	}
}
