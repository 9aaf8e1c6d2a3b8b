package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/timeline"
	"github.com/editstack/cutcore/pkg/models"
)

// decodeCommand turns one wire command into a timeline mutation. Commands
// that create entities get their ids filled here when the client omitted
// them: command objects are replayed verbatim on redo, so the id has to be
// fixed before the first apply.
func decodeCommand(raw json.RawMessage) (timeline.Command, error) {
	var head struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	switch head.Op {
	case "element.add":
		var body struct {
			TrackID string          `json:"track_id"`
			Element *models.Element `json:"element"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		if body.Element == nil {
			return nil, fmt.Errorf("%s: element is required", head.Op)
		}
		if body.Element.ID == "" {
			body.Element.ID = uuid.New().String()
		}
		return &timeline.AddElement{TrackID: body.TrackID, Element: body.Element}, nil

	case "element.remove":
		var body struct {
			ElementID string `json:"element_id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.RemoveElement{ElementID: body.ElementID}, nil

	case "element.move":
		var body struct {
			ElementID string `json:"element_id"`
			StartTick int64  `json:"start_tick"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.MoveElement{ElementID: body.ElementID, StartTick: body.StartTick}, nil

	case "element.trim":
		var body struct {
			ElementID string `json:"element_id"`
			TrimIn    int64  `json:"trim_in_ticks"`
			TrimOut   int64  `json:"trim_out_ticks"`
			Duration  int64  `json:"duration_ticks"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.TrimElement{
			ElementID: body.ElementID,
			TrimIn:    body.TrimIn,
			TrimOut:   body.TrimOut,
			Duration:  body.Duration,
		}, nil

	case "element.split":
		var body struct {
			ElementID string `json:"element_id"`
			AtTick    int64  `json:"at_tick"`
			NewID     string `json:"new_id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		if body.NewID == "" {
			body.NewID = uuid.New().String()
		}
		return &timeline.SplitElement{
			ElementID: body.ElementID,
			AtTick:    body.AtTick,
			NewID:     body.NewID,
		}, nil

	case "element.merge":
		var body struct {
			LeftID  string `json:"left_id"`
			RightID string `json:"right_id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.MergeElement{LeftID: body.LeftID, RightID: body.RightID}, nil

	case "track.add":
		var body struct {
			Track    *models.Track        `json:"track"`
			Index    int                  `json:"index"`
			Captions *models.CaptionTrack `json:"captions"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		if body.Track == nil {
			return nil, fmt.Errorf("%s: track is required", head.Op)
		}
		if body.Track.ID == "" {
			body.Track.ID = uuid.New().String()
		}
		if body.Captions != nil && body.Captions.ID == "" {
			body.Captions.ID = uuid.New().String()
		}
		return &timeline.AddTrack{Track: body.Track, Index: body.Index, Captions: body.Captions}, nil

	case "track.remove":
		var body struct {
			TrackID string `json:"track_id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.RemoveTrack{TrackID: body.TrackID}, nil

	case "track.reorder":
		var body struct {
			Order []string `json:"order"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.ReorderTracks{Order: body.Order}, nil

	case "track.enable":
		var body struct {
			TrackID string `json:"track_id"`
			Enabled bool   `json:"enabled"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.SetTrackEnabled{TrackID: body.TrackID, Enabled: body.Enabled}, nil

	case "track.rename":
		var body struct {
			TrackID string `json:"track_id"`
			Title   string `json:"title"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.RenameTrack{TrackID: body.TrackID, Title: body.Title}, nil

	case "cue.add":
		var body struct {
			CaptionTrackID string      `json:"caption_track_id"`
			Cue            *models.Cue `json:"cue"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		if body.Cue == nil {
			return nil, fmt.Errorf("%s: cue is required", head.Op)
		}
		if body.Cue.ID == "" {
			body.Cue.ID = uuid.New().String()
		}
		return &timeline.AddCue{CaptionTrackID: body.CaptionTrackID, Cue: body.Cue}, nil

	case "cue.remove":
		var body struct {
			CaptionTrackID string `json:"caption_track_id"`
			CueID          string `json:"cue_id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.RemoveCue{CaptionTrackID: body.CaptionTrackID, CueID: body.CueID}, nil

	case "cue.edit":
		var body struct {
			CaptionTrackID string `json:"caption_track_id"`
			CueID          string `json:"cue_id"`
			StartTick      int64  `json:"start_tick"`
			EndTick        int64  `json:"end_tick"`
			Text           string `json:"text"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		return &timeline.EditCue{
			CaptionTrackID: body.CaptionTrackID,
			CueID:          body.CueID,
			StartTick:      body.StartTick,
			EndTick:        body.EndTick,
			Text:           body.Text,
		}, nil

	case "compound":
		var body struct {
			Label    string            `json:"label"`
			Commands []json.RawMessage `json:"commands"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Op, err)
		}
		if len(body.Commands) == 0 {
			return nil, fmt.Errorf("%s: commands are required", head.Op)
		}
		cmds := make([]timeline.Command, 0, len(body.Commands))
		for _, rawCmd := range body.Commands {
			cmd, err := decodeCommand(rawCmd)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
		}
		return &timeline.Compound{Label: body.Label, Commands: cmds}, nil

	case "":
		return nil, fmt.Errorf("command op is required")

	default:
		return nil, fmt.Errorf("unknown command op %q", head.Op)
	}
}
