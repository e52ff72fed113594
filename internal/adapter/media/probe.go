package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// ProbeResult summarizes a media file's properties used by the pipeline.
type ProbeResult struct {
	DurationSec float64
	TotalFrames int64
	Width       int
	Height      int
	HasAudio    bool
}

// FFprobe shells out to the configured ffprobe binary.
type FFprobe struct {
	bin string
}

// NewFFprobe returns an FFprobe runner for the given binary path.
func NewFFprobe(bin string) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{bin: bin}
}

// probeOutput mirrors the subset of ffprobe -print_format json we read.
// Numeric fields arrive as strings.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		NBFrames  string `json:"nb_frames"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe inspects a local media file.
func (f *FFprobe) Probe(ctx domain.Context, path string) (ProbeResult, error) {
	tracer := otel.Tracer("media.ffprobe")
	ctx, span := tracer.Start(ctx, "ffprobe.Probe")
	defer span.End()

	cmd := exec.CommandContext(ctx, f.bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ProbeResult{}, fmt.Errorf("op=ffprobe.Probe: %w: %s", err, tailOf(stderr.String(), stderrTailSize))
	}
	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(raw []byte) (ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProbeResult{}, fmt.Errorf("op=ffprobe.parse: %w", err)
	}
	var res ProbeResult
	if out.Format.Duration != "" {
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			res.DurationSec = d
		}
	}
	for _, st := range out.Streams {
		switch st.CodecType {
		case "video":
			if st.Width > 0 {
				res.Width = st.Width
				res.Height = st.Height
			}
			if st.NBFrames != "" {
				if n, err := strconv.ParseInt(st.NBFrames, 10, 64); err == nil && n > res.TotalFrames {
					res.TotalFrames = n
				}
			}
		case "audio":
			res.HasAudio = true
		}
	}
	return res, nil
}
