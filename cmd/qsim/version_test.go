package main

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/version"
)

func TestWriteVersion(t *testing.T) {
	t.Parallel()
	info := version.Info{
		Version:   "v0.3.0",
		Commit:    "0123456789abcdef0123",
		BuildTime: "2026-10-01T12:00:00Z",
		GoVersion: "go1.26.0",
	}
	var buf bytes.Buffer
	if err := writeVersion(&buf, info, false); err != nil {
		t.Fatalf("writeVersion: %v", err)
	}
	want := "qsim v0.3.0 (0123456789ab) go1.26.0 built 2026-10-01T12:00:00Z\n"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	buf.Reset()
	if err := writeVersion(&buf, version.Info{Version: "dev", GoVersion: "go1.26.0"}, false); err != nil {
		t.Fatalf("writeVersion: %v", err)
	}
	if got := buf.String(); got != "qsim dev go1.26.0\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteVersionJSON(t *testing.T) {
	t.Parallel()
	info := version.Info{Version: "v0.3.0", GoVersion: "go1.26.0"}
	var buf bytes.Buffer
	if err := writeVersion(&buf, info, true); err != nil {
		t.Fatalf("writeVersion: %v", err)
	}
	var got version.Info
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(info, got); diff != "" {
		t.Fatalf("info (-want +got):\n%s", diff)
	}
	if bytes.Contains(buf.Bytes(), []byte("commit")) {
		t.Fatalf("empty commit should be omitted: %s", buf.String())
	}
}
