package captions

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/editstack/cutcore/pkg/models"
)

// BuildTrack converts engine output into a caption track that satisfies
// the track invariant: cues sorted by start, non-overlapping, non-empty.
// Engines emit approximate segment times, so overlaps are clamped rather
// than rejected: a cue starting before the previous one ends is pushed
// forward to that end, and cues left with no width (or no text) are
// dropped.
func BuildTrack(language, sourceJob string, inputs []CueInput) *models.CaptionTrack {
	track := &models.CaptionTrack{
		ID:        uuid.New().String(),
		Language:  language,
		SourceJob: sourceJob,
		Cues:      make([]*models.Cue, 0, len(inputs)),
	}

	sorted := make([]CueInput, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartSeconds < sorted[j].StartSeconds
	})

	var prevEnd int64
	for _, in := range sorted {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			continue
		}

		start := models.TicksFromSeconds(in.StartSeconds)
		end := models.TicksFromSeconds(in.EndSeconds)
		if start < 0 {
			start = 0
		}
		if start < prevEnd {
			start = prevEnd
		}
		if end <= start {
			continue
		}

		track.Cues = append(track.Cues, &models.Cue{
			ID:        uuid.New().String(),
			StartTick: start,
			EndTick:   end,
			Text:      text,
			Speaker:   in.Speaker,
			Conf:      in.Confidence,
		})
		prevEnd = end
	}

	return track
}
