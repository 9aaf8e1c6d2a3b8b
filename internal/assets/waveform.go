package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/editstack/cutcore/pkg/models"
)

// WaveformBuilder produces a normalized peak envelope for an audio-bearing
// source, one value per display block.
type WaveformBuilder interface {
	Peaks(ctx context.Context, source string, blocks int) (models.Waveform, error)
}

// FFmpegWaveform extracts a low-rate mono PCM copy of the source with
// ffmpeg, then scans it for per-block peaks.
type FFmpegWaveform struct {
	ffmpegPath string
	tempDir    string
}

// NewFFmpegWaveform creates a waveform builder.
func NewFFmpegWaveform(ffmpegPath, tempDir string) *FFmpegWaveform {
	return &FFmpegWaveform{ffmpegPath: ffmpegPath, tempDir: tempDir}
}

// peakSampleRate keeps the intermediate WAV small; 8 kHz mono is plenty
// for a display envelope.
const peakSampleRate = 8000

// Peaks implements WaveformBuilder.
func (w *FFmpegWaveform) Peaks(ctx context.Context, source string, blocks int) (models.Waveform, error) {
	if blocks < 1 {
		return nil, fmt.Errorf("blocks must be at least 1")
	}
	if err := os.MkdirAll(w.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	tmpPath := filepath.Join(w.tempDir, fmt.Sprintf("peaks-%s.wav", uuid.New().String()))
	defer os.Remove(tmpPath)

	args := []string{
		"-i", source,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", peakSampleRate),
		"-acodec", "pcm_s16le",
		"-y",
		tmpPath,
	}

	cmd := exec.CommandContext(ctx, w.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to extract audio: %w, stderr: %s", err, stderr.String())
	}

	return scanPeaks(tmpPath, blocks)
}

func scanPeaks(path string, blocks int) (models.Waveform, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	if decoder.WavAudioFormat != 1 || decoder.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported WAV format: got %d-bit, format %d", decoder.BitDepth, decoder.WavAudioFormat)
	}

	format := decoder.Format()
	if format == nil || format.NumChannels == 0 {
		return nil, fmt.Errorf("could not read audio format from %s", path)
	}

	duration, err := decoder.Duration()
	if err != nil {
		return nil, fmt.Errorf("could not read duration from %s: %w", path, err)
	}

	totalFrames := int(duration.Seconds() * float64(format.SampleRate))
	framesPerBlock := totalFrames / blocks
	if framesPerBlock < 1 {
		framesPerBlock = 1
	}

	channels := int(format.NumChannels)
	buf := &audio.IntBuffer{
		Format: format,
		Data:   make([]int, 8192*channels),
	}

	peaks := make(models.Waveform, 0, blocks+1)
	blockPeak := 0
	framesInBlock := 0

	for {
		n, err := decoder.PCMBuffer(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading PCM chunk: %w", err)
		}
		if n == 0 {
			break
		}

		frames := n / channels
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				sample := buf.Data[i*channels+ch]
				if sample < 0 {
					sample = -sample
				}
				if sample > blockPeak {
					blockPeak = sample
				}
			}
			framesInBlock++

			if framesInBlock >= framesPerBlock {
				peaks = append(peaks, normalizePeak(blockPeak))
				blockPeak = 0
				framesInBlock = 0
			}
		}
	}

	if framesInBlock > 0 {
		peaks = append(peaks, normalizePeak(blockPeak))
	}

	return peaks, nil
}

func normalizePeak(peak int) float64 {
	v := float64(peak) / 32767.0
	if v > 1.0 {
		v = 1.0
	}
	return v
}
