package docker

import (
	"bytes"
	"strings"
	"testing"
)

func frame(tag byte, payload string) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = tag
	n := len(payload)
	buf[4] = byte(n >> 24)
	buf[5] = byte(n >> 16)
	buf[6] = byte(n >> 8)
	buf[7] = byte(n)
	copy(buf[frameHeaderSize:], payload)
	return buf
}

func TestDemuxFramesSeparatesStdoutAndStderr(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(streamTagStdout, "hello\n"))
	wire.Write(frame(streamTagStderr, "warn\n"))

	var stdout, stderr strings.Builder
	if err := demuxFrames(&wire, &stdout, &stderr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout.String() != "hello\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if stderr.String() != "warn\n" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestDemuxFramesStopsOnTruncatedFrame(t *testing.T) {
	full := frame(streamTagStdout, "partial-data")
	truncated := full[:frameHeaderSize+4] // header claims more payload than is present

	var stdout, stderr strings.Builder
	if err := demuxFrames(bytes.NewReader(truncated), &stdout, &stderr); err != nil {
		t.Fatalf("truncated frame must not surface an error, got %v", err)
	}
	if stdout.String() != "" {
		t.Errorf("expected no stdout from a truncated frame, got %q", stdout.String())
	}
}

func TestDemuxFramesIgnoresShortHeader(t *testing.T) {
	var stdout, stderr strings.Builder
	if err := demuxFrames(bytes.NewReader([]byte{1, 0, 0}), &stdout, &stderr); err != nil {
		t.Fatalf("short header must not surface an error, got %v", err)
	}
}

func TestDemuxFramesHandlesEmptyStream(t *testing.T) {
	var stdout, stderr strings.Builder
	if err := demuxFrames(bytes.NewReader(nil), &stdout, &stderr); err != nil {
		t.Fatalf("unexpected error on empty stream: %v", err)
	}
}
