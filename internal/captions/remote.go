package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/logging"
)

// Remote drives an external transcription service over HTTP: submit the
// source, then poll the job resource until it reaches a terminal status.
type Remote struct {
	serviceURL string
	language   string
	client     *http.Client
	pollEvery  time.Duration
	logger     *logging.Logger
}

// NewRemote creates the HTTP engine.
func NewRemote(cfg config.TranscribeConfig, logger *logging.Logger) *Remote {
	return &Remote{
		serviceURL: cfg.ServiceURL,
		language:   cfg.Language,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollEvery: 2 * time.Second,
		logger:    logger,
	}
}

type remoteSubmission struct {
	Source   string `json:"source"`
	Language string `json:"language,omitempty"`
}

type remoteJob struct {
	ID       string     `json:"id"`
	Status   string     `json:"status"`
	Segments []CueInput `json:"segments,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Transcribe implements Transcriber.
func (r *Remote) Transcribe(ctx context.Context, req Request) (<-chan Event, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("transcription request has no source")
	}

	language := req.Language
	if language == "" {
		language = r.language
	}

	job, err := r.submit(ctx, remoteSubmission{Source: req.Source, Language: language})
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 4)
	go r.poll(ctx, job.ID, events)
	return events, nil
}

func (r *Remote) submit(ctx context.Context, sub remoteSubmission) (*remoteJob, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.serviceURL+"/v1/transcriptions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, string(payload))
	}

	var job remoteJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode submission response: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("transcription service returned no job id")
	}
	return &job, nil
}

func (r *Remote) poll(ctx context.Context, remoteID string, events chan<- Event) {
	defer close(events)

	events <- Event{Kind: EventQueued}

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	lastStatus := "queued"
	for {
		select {
		case <-ctx.Done():
			events <- Event{Kind: EventFailed, Reason: ctx.Err().Error()}
			return
		case <-ticker.C:
		}

		job, err := r.fetch(ctx, remoteID)
		if err != nil {
			// Transient poll failures keep the job alive; the caller's
			// deadline bounds the total wait.
			r.logger.WithError(err).Warn("Transcription poll failed")
			continue
		}

		if job.Status == "running" && lastStatus == "queued" {
			events <- Event{Kind: EventRunning}
			lastStatus = "running"
		}

		switch job.Status {
		case "completed":
			events <- Event{Kind: EventCompleted, Cues: job.Segments}
			return
		case "failed":
			reason := job.Error
			if reason == "" {
				reason = "transcription service reported failure"
			}
			events <- Event{Kind: EventFailed, Reason: reason}
			return
		}
	}
}

func (r *Remote) fetch(ctx context.Context, remoteID string) (*remoteJob, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", r.serviceURL+"/v1/transcriptions/"+remoteID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription service returned %d", resp.StatusCode)
	}

	var job remoteJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
