package render

import (
	"context"

	"github.com/editstack/cutcore/pkg/models"
)

// ActiveElement is one layer contributing to a frame: the element, its
// track, and the resolved source. Asset is set for media elements, Cue for
// caption tracks when captions are burned in. SourceTick is the position
// inside the asset that corresponds to the frame timestamp.
type ActiveElement struct {
	Element    *models.Element
	Track      *models.Track
	Asset      *models.MediaAsset
	Cue        *models.Cue
	SourceTick int64
	LayerIndex int
}

// FrameBuffer is one rendered frame ready for the encoder: raw RGB video
// plus the interleaved PCM samples covering the frame's time window.
type FrameBuffer struct {
	Index    int64
	Tick     int64
	Video    []byte
	Audio    []byte
	Fallback bool
}

// Renderer composites the active elements of one timestamp into a frame.
// BlackFrame builds the black/silence substitute used when a frame's
// composite fails past the retry limit; it cannot fail.
type Renderer interface {
	RenderFrame(ctx context.Context, active []ActiveElement, frame *FrameRequest) (*FrameBuffer, error)
	BlackFrame(frame *FrameRequest) *FrameBuffer
}

// Encoder consumes rendered frames in order and finalizes the container.
// Finalize must be safe to call after a partial frame sequence; cancelled
// exports still flush whatever was encoded.
type Encoder interface {
	Encode(ctx context.Context, frame *FrameBuffer) error
	Finalize(ctx context.Context) error
}

// FrameRequest carries the geometry of one frame: its index, the tick
// window [Tick, EndTick) it covers, and the number of audio samples the
// window holds per channel.
type FrameRequest struct {
	Index    int64
	Tick     int64
	EndTick  int64
	Samples  int64
	Settings *models.RenderSettings
}

// frameRequest computes the window for frame i. Audio sample counts come
// from cumulative boundaries so rounding never drifts across the export.
func frameRequest(i int64, settings *models.RenderSettings) *FrameRequest {
	start := settings.FrameRate.TickForFrame(i)
	end := settings.FrameRate.TickForFrame(i + 1)
	return &FrameRequest{
		Index:    i,
		Tick:     start,
		EndTick:  end,
		Samples:  samplesBefore(end, settings.SampleRate) - samplesBefore(start, settings.SampleRate),
		Settings: settings,
	}
}

func samplesBefore(tick int64, sampleRate int) int64 {
	return tick * int64(sampleRate) / models.TicksPerSecond
}

// activeElements gathers the layers covering one tick, in track order:
// the timeline's track sequence is z-order for video and mix order for
// audio, so layer indexes follow it directly. Disabled tracks contribute
// nothing. Caption tracks contribute their active cue only when captions
// are burned into the output.
func activeElements(snapshot *models.ExportSnapshot, tick int64, burnCaptions bool) []ActiveElement {
	var active []ActiveElement
	for idx, track := range snapshot.Timeline.Tracks {
		if !track.Enabled {
			continue
		}

		if track.Kind == models.TrackKindCaption {
			if !burnCaptions || track.CaptionTrackID == "" {
				continue
			}
			ct := snapshot.Timeline.CaptionTrackByID(track.CaptionTrackID)
			if ct == nil {
				continue
			}
			if cue := ct.CueAt(tick); cue != nil {
				active = append(active, ActiveElement{
					Track:      track,
					Cue:        cue,
					LayerIndex: idx,
				})
			}
			continue
		}

		for _, el := range track.Elements {
			if el.StartTick > tick {
				break
			}
			if !el.Covers(tick) {
				continue
			}
			active = append(active, ActiveElement{
				Element:    el,
				Track:      track,
				Asset:      snapshot.Assets[el.AssetID],
				SourceTick: el.TrimInTicks + (tick - el.StartTick),
				LayerIndex: idx,
			})
		}
	}
	return active
}
