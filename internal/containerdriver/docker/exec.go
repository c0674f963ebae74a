package docker

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"

	"github.com/dataanalyst/sandboxpool/internal/containerdriver"
)

// frameHeaderSize is the fixed 8-byte header the engine prefixes onto
// every chunk of the exec stream: byte 0 is the stream tag (1=stdout,
// 2=stderr), bytes 4-7 are a big-endian uint32 payload length.
const frameHeaderSize = 8

const (
	streamTagStdout = 1
	streamTagStderr = 2
)

// ExecInContainer runs cmd under /bin/bash -lc and demultiplexes the
// engine's framed stdout/stderr stream. A nonzero timeoutMs aborts the
// stream and returns *containerdriver.SandboxTimeoutError if the
// command has not finished in time; the in-container process is not
// guaranteed to be killed.
func (d *Driver) ExecInContainer(ctx context.Context, ref string, cmd string, timeoutMs int64) (containerdriver.ExecResult, error) {
	execResp, err := d.cli.ContainerExecCreate(ctx, ref, types.ExecConfig{
		Cmd:          []string{"/bin/bash", "-lc", cmd},
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	})
	if err != nil {
		return containerdriver.ExecResult{}, fmt.Errorf("docker: exec create failed: %w", err)
	}

	hijacked, err := d.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return containerdriver.ExecResult{}, fmt.Errorf("docker: exec attach failed: %w", err)
	}
	defer hijacked.Close()

	var (
		stdout, stderr strings.Builder
		demuxErr       error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		demuxErr = demuxFrames(hijacked.Reader, &stdout, &stderr)
	}()

	var settled sync.Once
	settledAndTimedOut := false

	if timeoutMs > 0 {
		select {
		case <-done:
		case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
			settled.Do(func() {
				settledAndTimedOut = true
				hijacked.Close()
			})
			<-done // demux goroutine exits once the connection is closed
		}
	} else {
		<-done
	}

	if settledAndTimedOut {
		return containerdriver.ExecResult{}, &containerdriver.SandboxTimeoutError{Op: "exec", TimeoutMs: timeoutMs}
	}
	if demuxErr != nil && demuxErr != io.EOF {
		return containerdriver.ExecResult{}, fmt.Errorf("docker: exec stream error: %w", demuxErr)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return containerdriver.ExecResult{}, fmt.Errorf("docker: exec inspect failed: %w", err)
	}

	return containerdriver.ExecResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: inspect.ExitCode,
	}, nil
}

// demuxFrames reads the 8-byte-header framed stream until EOF or a
// short/truncated frame, appending payloads to the stream they're
// tagged for. A short frame terminates parsing without error.
func demuxFrames(r io.Reader, stdout, stderr *strings.Builder) error {
	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return nil
			}
			return err
		}

		length := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if length < 0 {
			return nil
		}

		payload := make([]byte, length)
		if n, err := io.ReadFull(r, payload); n < length {
			_ = err
			// Truncated frame: stop parsing without surfacing an error.
			return nil
		}

		switch header[0] {
		case streamTagStdout:
			stdout.Write(payload)
		case streamTagStderr:
			stderr.Write(payload)
		}
	}
}

// WriteToContainer base64-encodes data and pipes it through
// `base64 -d > path`. path must pass containerdriver.ValidatePath.
func (d *Driver) WriteToContainer(ctx context.Context, ref string, path string, data []byte) error {
	if err := containerdriver.ValidatePath(path); err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	cmd := fmt.Sprintf("echo %s | base64 -d > %s", shellQuote(encoded), path)

	result, err := d.ExecInContainer(ctx, ref, cmd, 0)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("docker: write to %s failed (exit %d): %s", path, result.ExitCode, result.Stderr)
	}
	return nil
}

// shellQuote wraps s in single quotes for safe embedding in a
// `bash -lc` command line. Base64 output never contains a single quote,
// but this guards the call site against that assumption changing.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
