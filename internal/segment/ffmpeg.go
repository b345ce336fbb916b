// Package segment invokes ffmpeg to cut a source video into fixed-length
// clips without re-encoding.
package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Request describes one segmentation run.
type Request struct {
	InputPath      string
	OutputDir      string
	SegmentSeconds int
}

// FailureKind classifies why a segmentation run failed.
type FailureKind string

const (
	FailureExit          FailureKind = "nonzero_exit"
	FailureTimeout       FailureKind = "timeout"
	FailureMissingOutput FailureKind = "missing_output"
)

// ToolError is a typed segmentation failure with the captured command result.
type ToolError struct {
	Kind     FailureKind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case FailureTimeout:
		return "ffmpeg timed out"
	case FailureMissingOutput:
		return "ffmpeg completed but produced no clips"
	default:
		msg := fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
		if s := strings.TrimSpace(e.Stderr); s != "" {
			msg += ": " + s
		}
		return msg
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpeg splits videos via the ffmpeg segment muxer.
type FFmpeg struct {
	binary  string
	timeout time.Duration
	runner  commandRunner
}

// NewFFmpeg constructs the production adapter. timeout bounds one run end to end.
func NewFFmpeg(binary string, timeout time.Duration) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, timeout: timeout, runner: &execRunner{}}
}

// Split cuts req.InputPath into clips of req.SegmentSeconds inside
// req.OutputDir and returns the produced files in filename-sorted order.
//
// Segmentation is a single stream-copy pass, so the fixed-width indices in
// the output pattern make filename order equal temporal order. The final
// clip may be shorter than the configured duration. Any non-zero exit,
// timeout, or empty output directory is returned as a *ToolError.
func (f *FFmpeg) Split(ctx context.Context, req Request) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ext := filepath.Ext(req.InputPath)
	if ext == "" {
		ext = ".mp4"
	}
	pattern := filepath.Join(req.OutputDir, "clip_%03d"+ext)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", req.InputPath,
		"-c", "copy",
		"-map", "0",
		"-f", "segment",
		"-segment_time", strconv.Itoa(req.SegmentSeconds),
		"-reset_timestamps", "1",
		pattern,
	}

	result, runErr := f.runner.Run(ctx, f.binary, args...)
	if runErr != nil {
		kind := FailureExit
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = FailureTimeout
		}
		return nil, &ToolError{
			Kind:     kind,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      runErr,
		}
	}

	clips, err := collectClips(req.OutputDir, ext)
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, &ToolError{
			Kind:     FailureMissingOutput,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}
	return clips, nil
}

// collectClips reads back produced clip files in filename-sorted order.
func collectClips(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir %s: %w", dir, err)
	}

	var clips []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "clip_") || !strings.HasSuffix(name, ext) {
			continue
		}
		clips = append(clips, filepath.Join(dir, name))
	}
	sort.Strings(clips)
	return clips, nil
}
