package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// MediaInfo is what the orchestrator needs to know about a source clip.
type MediaInfo struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Codec    string  `json:"codec"`
}

// Prober reads clip metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
}

// FFprobe implements Prober with ffprobe's JSON writer.
type FFprobe struct {
	Path    string
	Timeout time.Duration
}

// NewFFprobe creates a prober. An empty path means "ffprobe" on PATH.
func NewFFprobe(path string, timeout time.Duration) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FFprobe{Path: path, Timeout: timeout}
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe implements Prober.
func (p *FFprobe) Probe(ctx context.Context, path string) (MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	cmd.WaitDelay = waitDelay

	var stdout bytes.Buffer
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe error: %w - %s", err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(data []byte) (MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return MediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info MediaInfo
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return MediaInfo{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
		}
		info.Duration = d
	}

	for _, s := range out.Streams {
		// Older ffprobe builds omit codec_type; accept the first stream with dimensions.
		if s.CodecType == "video" || (s.CodecType == "" && s.Width > 0) {
			info.Width = s.Width
			info.Height = s.Height
			info.Codec = s.CodecName
			break
		}
	}

	if info.Duration <= 0 {
		return info, fmt.Errorf("ffprobe reported no duration")
	}
	return info, nil
}
