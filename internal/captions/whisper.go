package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/logging"
)

// whisperSampleRate is the input rate the whisper.cpp binary expects.
const whisperSampleRate = 16000

// Whisper runs a local whisper.cpp-compatible binary. The source audio is
// first extracted to a 16 kHz mono WAV, then the binary writes segment JSON
// which is parsed into cue inputs.
type Whisper struct {
	binaryPath string
	modelPath  string
	ffmpegPath string
	tempDir    string
	language   string
	logger     *logging.Logger
}

// NewWhisper creates the local CLI engine.
func NewWhisper(cfg config.TranscribeConfig, logger *logging.Logger) *Whisper {
	return &Whisper{
		binaryPath: cfg.BinaryPath,
		modelPath:  cfg.ModelPath,
		ffmpegPath: cfg.FFmpegPath,
		tempDir:    cfg.TempDir,
		language:   cfg.Language,
		logger:     logger,
	}
}

// Transcribe implements Transcriber.
func (w *Whisper) Transcribe(ctx context.Context, req Request) (<-chan Event, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("transcription request has no source")
	}

	events := make(chan Event, 4)
	go func() {
		defer close(events)

		events <- Event{Kind: EventQueued}

		if err := os.MkdirAll(w.tempDir, 0o755); err != nil {
			events <- Event{Kind: EventFailed, Reason: fmt.Sprintf("failed to create temp dir: %v", err)}
			return
		}

		base := filepath.Join(w.tempDir, fmt.Sprintf("stt-%s", uuid.New().String()))
		wavPath := base + ".wav"
		defer os.Remove(wavPath)

		events <- Event{Kind: EventRunning}

		if err := w.extractAudio(ctx, req.Source, wavPath); err != nil {
			events <- Event{Kind: EventFailed, Reason: err.Error()}
			return
		}

		cues, err := w.runBinary(ctx, wavPath, base, req.Language)
		if err != nil {
			events <- Event{Kind: EventFailed, Reason: err.Error()}
			return
		}

		events <- Event{Kind: EventCompleted, Cues: cues}
	}()

	return events, nil
}

func (w *Whisper) extractAudio(ctx context.Context, source, wavPath string) error {
	args := []string{
		"-i", source,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", whisperSampleRate),
		"-acodec", "pcm_s16le",
		"-y",
		wavPath,
	}

	cmd := exec.CommandContext(ctx, w.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to extract audio: %w, stderr: %s", err, stderr.String())
	}
	return nil
}

func (w *Whisper) runBinary(ctx context.Context, wavPath, outBase, language string) ([]CueInput, error) {
	if language == "" {
		language = w.language
	}

	args := []string{
		"-m", w.modelPath,
		"-l", language,
		"-oj",
		"-of", outBase,
		wavPath,
	}

	jsonPath := outBase + ".json"
	defer os.Remove(jsonPath)

	cmd := exec.CommandContext(ctx, w.binaryPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("transcription binary failed: %w, stderr: %s", err, stderr.String())
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription output: %w", err)
	}

	return parseWhisperOutput(data)
}

// parseWhisperOutput reads whisper.cpp -oj output. Offsets are
// milliseconds from the start of the input.
func parseWhisperOutput(data []byte) ([]CueInput, error) {
	var doc struct {
		Transcription []struct {
			Offsets struct {
				From int64 `json:"from"`
				To   int64 `json:"to"`
			} `json:"offsets"`
			Text string `json:"text"`
		} `json:"transcription"`
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse transcription output: %w", err)
	}

	cues := make([]CueInput, 0, len(doc.Transcription))
	for _, seg := range doc.Transcription {
		cues = append(cues, CueInput{
			StartSeconds: float64(seg.Offsets.From) / 1000.0,
			EndSeconds:   float64(seg.Offsets.To) / 1000.0,
			Text:         seg.Text,
		})
	}
	return cues, nil
}
