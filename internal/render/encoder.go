package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/pkg/models"
)

// FFmpegEncoder turns the pipeline's frame stream into the output file in
// two stages: a long-lived ffmpeg process encodes raw RGB frames from
// stdin into an intermediate video, while PCM samples accumulate in a
// sidecar file; Finalize closes the stream and muxes both into the final
// container. The split keeps Encode cheap and makes the flush-on-cancel
// contract natural: whatever reached ffmpeg is in the intermediate.
type FFmpegEncoder struct {
	ffmpegPath string
	tempDir    string
	outputPath string
	settings   models.RenderSettings
	logger     *logging.Logger

	videoCmd    *exec.Cmd
	videoStdin  io.WriteCloser
	videoStderr bytes.Buffer
	videoPath   string

	audioFile *os.File
	audioPath string

	started   bool
	finalized bool
	frames    int64
}

// NewFFmpegEncoder creates an encoder writing to outputPath.
func NewFFmpegEncoder(ffmpegPath, tempDir, outputPath string, settings models.RenderSettings, logger *logging.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{
		ffmpegPath: ffmpegPath,
		tempDir:    tempDir,
		outputPath: outputPath,
		settings:   settings,
		logger:     logger,
	}
}

// OutputPath returns the final container path.
func (e *FFmpegEncoder) OutputPath() string {
	return e.outputPath
}

// Encode implements Encoder. The first call starts the video process.
func (e *FFmpegEncoder) Encode(ctx context.Context, frame *FrameBuffer) error {
	if e.finalized {
		return fmt.Errorf("encoder already finalized")
	}
	if !e.started {
		if err := e.start(ctx); err != nil {
			return err
		}
	}

	if _, err := e.videoStdin.Write(frame.Video); err != nil {
		return fmt.Errorf("failed to feed frame %d: %w, stderr: %s", frame.Index, err, e.videoStderr.String())
	}
	if _, err := e.audioFile.Write(frame.Audio); err != nil {
		return fmt.Errorf("failed to buffer audio for frame %d: %w", frame.Index, err)
	}

	e.frames++
	return nil
}

func (e *FFmpegEncoder) start(ctx context.Context) error {
	if err := os.MkdirAll(e.tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	id := uuid.New().String()
	e.videoPath = filepath.Join(e.tempDir, fmt.Sprintf("encode-%s-video.%s", id, e.settings.Container))
	e.audioPath = filepath.Join(e.tempDir, fmt.Sprintf("encode-%s-audio.pcm", id))

	audioFile, err := os.Create(e.audioPath)
	if err != nil {
		return fmt.Errorf("failed to create audio buffer: %w", err)
	}
	e.audioFile = audioFile

	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", e.settings.Width, e.settings.Height),
		"-r", e.settings.FrameRate.String(),
		"-i", "pipe:0",
		"-y",
	}

	if e.settings.VideoCodec != "" {
		args = append(args, "-c:v", e.settings.VideoCodec)
	} else {
		args = append(args, "-c:v", "libx264")
	}

	if e.settings.VideoBitrate != "" {
		args = append(args, "-b:v", e.settings.VideoBitrate)
	} else if e.settings.CRF > 0 {
		args = append(args, "-crf", fmt.Sprintf("%d", e.settings.CRF))
	}

	if e.settings.Preset != "" {
		args = append(args, "-preset", e.settings.Preset)
	} else {
		args = append(args, "-preset", "medium")
	}

	args = append(args, "-pix_fmt", "yuv420p", e.videoPath)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stderr = &e.videoStderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		audioFile.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		audioFile.Close()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	e.videoCmd = cmd
	e.videoStdin = stdin
	e.started = true
	return nil
}

// Finalize implements Encoder. A run with no frames produces no output
// file; partial runs mux everything that reached the video process.
func (e *FFmpegEncoder) Finalize(ctx context.Context) error {
	if e.finalized {
		return nil
	}
	e.finalized = true

	if !e.started {
		return nil
	}

	defer os.Remove(e.videoPath)
	defer os.Remove(e.audioPath)

	if err := e.videoStdin.Close(); err != nil {
		e.logger.WithError(err).Warn("Failed to close encoder stdin")
	}
	if err := e.audioFile.Close(); err != nil {
		e.logger.WithError(err).Warn("Failed to close audio buffer")
	}
	if err := e.videoCmd.Wait(); err != nil {
		return fmt.Errorf("video encode failed: %w, stderr: %s", err, e.videoStderr.String())
	}

	return e.mux(ctx)
}

func (e *FFmpegEncoder) mux(ctx context.Context) error {
	args := []string{
		"-i", e.videoPath,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", e.settings.SampleRate),
		"-ac", fmt.Sprintf("%d", e.settings.Channels),
		"-i", e.audioPath,
		"-c:v", "copy",
	}

	if e.settings.AudioCodec != "" {
		args = append(args, "-c:a", e.settings.AudioCodec)
	} else {
		args = append(args, "-c:a", "aac")
	}

	if e.settings.AudioBitrate != "" {
		args = append(args, "-b:a", e.settings.AudioBitrate)
	}

	args = append(args, "-y", e.outputPath)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mux failed: %w, stderr: %s", err, stderr.String())
	}
	return nil
}
