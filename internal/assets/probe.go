package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/editstack/cutcore/pkg/models"
)

// LoadError reports a source the decode collaborator could not open.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ProbeResult holds the immutable media properties of a source.
type ProbeResult struct {
	Kind          string
	DurationTicks int64
	Width         int
	Height        int
	FrameRate     float64
	SampleRate    int
	Channels      int
	SizeBytes     int64
	Metadata      models.Metadata
}

// Prober is the decode collaborator. Probe inspects a source and reports
// its kind and properties, or a LoadError.
type Prober interface {
	Probe(ctx context.Context, source string) (*ProbeResult, error)
}

// FFprobe implements Prober with the ffprobe CLI.
type FFprobe struct {
	ffprobePath string
}

// NewFFprobe creates an FFprobe prober.
func NewFFprobe(ffprobePath string) *FFprobe {
	return &FFprobe{ffprobePath: ffprobePath}
}

type probeOutput struct {
	Format  formatInfo   `json:"format"`
	Streams []streamInfo `json:"streams"`
}

type formatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type streamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// Probe extracts media properties from a source file or URL.
func (f *FFprobe) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		source,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &LoadError{Source: source, Err: fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())}
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, &LoadError{Source: source, Err: fmt.Errorf("failed to parse ffprobe output: %w", err)}
	}

	result := &ProbeResult{
		Metadata: models.Metadata{
			"format_name": out.Format.FormatName,
		},
	}

	if duration, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		result.DurationTicks = models.TicksFromSeconds(duration)
	}
	if size, err := strconv.ParseInt(out.Format.Size, 10, 64); err == nil {
		result.SizeBytes = size
	}
	if bitrate, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil {
		result.Metadata["bit_rate"] = bitrate
	}

	var hasVideo, hasAudio bool
	for _, stream := range out.Streams {
		switch stream.CodecType {
		case "video":
			hasVideo = true
			result.Width = stream.Width
			result.Height = stream.Height
			result.Metadata["video_codec"] = stream.CodecName

			if stream.AvgFrameRate != "" {
				parts := strings.Split(stream.AvgFrameRate, "/")
				if len(parts) == 2 {
					num, _ := strconv.ParseFloat(parts[0], 64)
					den, _ := strconv.ParseFloat(parts[1], 64)
					if den != 0 {
						result.FrameRate = num / den
					}
				}
			}
		case "audio":
			hasAudio = true
			result.Channels = stream.Channels
			result.Metadata["audio_codec"] = stream.CodecName
			if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
				result.SampleRate = rate
			}
		}
	}

	switch {
	case isImageFormat(out.Format.FormatName):
		result.Kind = models.AssetKindImage
		result.DurationTicks = 0
	case hasVideo:
		result.Kind = models.AssetKindVideo
	case hasAudio:
		result.Kind = models.AssetKindAudio
	default:
		return nil, &LoadError{Source: source, Err: fmt.Errorf("no playable streams")}
	}

	return result, nil
}

func isImageFormat(formatName string) bool {
	for _, name := range strings.Split(formatName, ",") {
		switch name {
		case "image2", "png_pipe", "webp_pipe", "bmp_pipe", "jpeg_pipe", "tiff_pipe", "gif":
			return true
		}
	}
	return false
}
