// Package media wraps the ffmpeg and ffprobe binaries for audio
// extraction, probing and filter-graph rendering.
package media

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
	"github.com/univac-1/risk-analyzer/internal/service/filtergraph"
)

// stderrTailSize bounds how much trailing stderr is kept for error messages.
const stderrTailSize = 4096

// FFmpeg shells out to the configured ffmpeg binary.
type FFmpeg struct {
	bin string
}

// NewFFmpeg returns an FFmpeg runner for the given binary path.
func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin}
}

// RenderInput describes one filter-graph render.
type RenderInput struct {
	InputPath  string
	OutputPath string
	Graph      filtergraph.Graph
	// TotalFrames and DurationSec drive progress estimation; frame count
	// is preferred when known.
	TotalFrames int64
	DurationSec float64
	// OnProgress receives percentages in [0,100]. May be nil.
	OnProgress func(pct float64)
}

// Render runs ffmpeg with the compiled filter graph, reporting progress
// parsed from -progress output. An empty FilterComplex stream-copies.
func (f *FFmpeg) Render(ctx domain.Context, in RenderInput) error {
	tracer := otel.Tracer("media.ffmpeg")
	ctx, span := tracer.Start(ctx, "ffmpeg.Render")
	defer span.End()

	args := []string{"-y", "-i", in.InputPath}
	if in.Graph.FilterComplex != "" {
		args = append(args,
			"-filter_complex", in.Graph.FilterComplex,
			"-map", in.Graph.VideoMap,
			"-map", in.Graph.AudioMap,
		)
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, "-progress", "pipe:1", "-nostats", in.OutputPath)

	cmd := exec.CommandContext(ctx, f.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("op=ffmpeg.Render: stdout: %w", err)
	}
	tail := newTailBuffer(stderrTailSize)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("op=ffmpeg.Render: start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	tracker := progressTracker{totalFrames: in.TotalFrames, durationSec: in.DurationSec}
	for scanner.Scan() {
		if pct, ok := tracker.observe(scanner.Text()); ok && in.OnProgress != nil {
			in.OnProgress(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("op=ffmpeg.Render: %w", ctx.Err())
		}
		observability.LoggerFromContext(ctx).Error("ffmpeg render failed",
			slog.String("stderr", tail.String()),
			slog.Any("error", err))
		return fmt.Errorf("op=ffmpeg.Render: %w: %s", err, tail.String())
	}
	if in.OnProgress != nil {
		in.OnProgress(100)
	}
	return nil
}

// ExtractAudio writes a 16 kHz mono PCM WAV next to the pipeline's
// transcription step. A source with no audio stream returns (false, nil).
func (f *FFmpeg) ExtractAudio(ctx domain.Context, inputPath, outputPath string) (bool, error) {
	tracer := otel.Tracer("media.ffmpeg")
	ctx, span := tracer.Start(ctx, "ffmpeg.ExtractAudio")
	defer span.End()

	args := []string{"-y", "-i", inputPath,
		"-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1",
		outputPath}
	cmd := exec.CommandContext(ctx, f.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("op=ffmpeg.ExtractAudio: %w", ctx.Err())
		}
		if isNoAudioStream(stderr.String()) {
			return false, nil
		}
		return false, fmt.Errorf("op=ffmpeg.ExtractAudio: %w: %s", err, tailOf(stderr.String(), stderrTailSize))
	}
	return true, nil
}

// isNoAudioStream matches ffmpeg's complaint when asked to map audio from
// a silent container.
func isNoAudioStream(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "does not contain any stream") ||
		strings.Contains(s, "output file does not contain any stream")
}

// progressTracker folds ffmpeg -progress key=value lines into percentages.
type progressTracker struct {
	totalFrames int64
	durationSec float64
}

// observe parses one progress line. The second return is false when the
// line carries no progress information.
func (p *progressTracker) observe(line string) (float64, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}
	switch key {
	case "frame":
		if p.totalFrames <= 0 {
			return 0, false
		}
		frames, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, false
		}
		return clampPct(float64(frames) / float64(p.totalFrames) * 100), true
	case "out_time_ms":
		if p.durationSec <= 0 {
			return 0, false
		}
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, false
		}
		return clampPct(float64(us) / 1e6 / p.durationSec * 100), true
	case "progress":
		if strings.TrimSpace(value) == "end" {
			return 100, true
		}
	}
	return 0, false
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// tailBuffer keeps only the last n bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
