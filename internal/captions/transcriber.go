package captions

import (
	"context"
	"fmt"

	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/logging"
)

// Event kinds emitted by a Transcriber.
const (
	EventQueued    = "queued"
	EventRunning   = "running"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// CueInput is one transcribed segment as delivered by an engine, in
// seconds. Ingest converts to ticks and enforces the non-overlap
// invariant.
type CueInput struct {
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
	Text         string  `json:"text"`
	Speaker      string  `json:"speaker,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// Event is one state change in a transcription run. Cues is set on
// EventCompleted, Reason on EventFailed.
type Event struct {
	Kind   string
	Cues   []CueInput
	Reason string
}

// Request names the media to transcribe.
type Request struct {
	AssetID  string
	Source   string
	Language string
}

// Transcriber runs speech-to-text against a media source. The returned
// channel delivers queued, running, then exactly one terminal event, and
// closes after the terminal event. Implementations stop early when ctx is
// cancelled; the channel still closes.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (<-chan Event, error)
}

// NewTranscriber builds the engine named by cfg.Engine.
func NewTranscriber(cfg config.TranscribeConfig, logger *logging.Logger) (Transcriber, error) {
	switch cfg.Engine {
	case "whisper":
		return NewWhisper(cfg, logger), nil
	case "http":
		if cfg.ServiceURL == "" {
			return nil, fmt.Errorf("transcribe.serviceURL is required for the http engine")
		}
		return NewRemote(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcription engine: %s", cfg.Engine)
	}
}
