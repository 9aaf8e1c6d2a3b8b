package captions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editstack/cutcore/pkg/models"
)

func TestBuildTrackConvertsToTicks(t *testing.T) {
	track := BuildTrack("en", "job1", []CueInput{
		{StartSeconds: 0, EndSeconds: 1.5, Text: "First", Confidence: 0.92},
		{StartSeconds: 2, EndSeconds: 3, Text: "Second", Speaker: "A"},
	})

	assert.Equal(t, "en", track.Language)
	assert.Equal(t, "job1", track.SourceJob)
	require.Len(t, track.Cues, 2)

	assert.Equal(t, int64(0), track.Cues[0].StartTick)
	assert.Equal(t, int64(135000), track.Cues[0].EndTick)
	assert.Equal(t, "First", track.Cues[0].Text)
	assert.Equal(t, 0.92, track.Cues[0].Conf)

	assert.Equal(t, int64(2*models.TicksPerSecond), track.Cues[1].StartTick)
	assert.Equal(t, "A", track.Cues[1].Speaker)
	assert.NotEmpty(t, track.Cues[0].ID)
	assert.NotEqual(t, track.Cues[0].ID, track.Cues[1].ID)
}

func TestBuildTrackClampsOverlap(t *testing.T) {
	track := BuildTrack("en", "", []CueInput{
		{StartSeconds: 0, EndSeconds: 2, Text: "First"},
		{StartSeconds: 1.5, EndSeconds: 3, Text: "Overlapping"},
	})

	require.Len(t, track.Cues, 2)
	assert.Equal(t, int64(2*models.TicksPerSecond), track.Cues[1].StartTick)
	assert.Equal(t, int64(3*models.TicksPerSecond), track.Cues[1].EndTick)

	for i := 1; i < len(track.Cues); i++ {
		assert.GreaterOrEqual(t, track.Cues[i].StartTick, track.Cues[i-1].EndTick)
	}
}

func TestBuildTrackDropsSwallowedCues(t *testing.T) {
	track := BuildTrack("en", "", []CueInput{
		{StartSeconds: 0, EndSeconds: 5, Text: "Long"},
		{StartSeconds: 1, EndSeconds: 2, Text: "Contained"},
		{StartSeconds: 6, EndSeconds: 7, Text: "After"},
	})

	require.Len(t, track.Cues, 2)
	assert.Equal(t, "Long", track.Cues[0].Text)
	assert.Equal(t, "After", track.Cues[1].Text)
}

func TestBuildTrackDropsEmptyText(t *testing.T) {
	track := BuildTrack("en", "", []CueInput{
		{StartSeconds: 0, EndSeconds: 1, Text: "   "},
		{StartSeconds: 1, EndSeconds: 2, Text: " kept "},
	})

	require.Len(t, track.Cues, 1)
	assert.Equal(t, "kept", track.Cues[0].Text)
}

func TestBuildTrackSortsInput(t *testing.T) {
	track := BuildTrack("en", "", []CueInput{
		{StartSeconds: 4, EndSeconds: 5, Text: "Second"},
		{StartSeconds: 0, EndSeconds: 1, Text: "First"},
	})

	require.Len(t, track.Cues, 2)
	assert.Equal(t, "First", track.Cues[0].Text)
	assert.Equal(t, "Second", track.Cues[1].Text)
}

func TestBuildTrackClampsNegativeStart(t *testing.T) {
	track := BuildTrack("en", "", []CueInput{
		{StartSeconds: -0.5, EndSeconds: 1, Text: "Leading"},
	})

	require.Len(t, track.Cues, 1)
	assert.Equal(t, int64(0), track.Cues[0].StartTick)
}

func TestBuildTrackEmptyInput(t *testing.T) {
	track := BuildTrack("en", "", nil)
	assert.NotNil(t, track.Cues)
	assert.Empty(t, track.Cues)
	assert.NotEmpty(t, track.ID)
}

func TestParseWhisperOutput(t *testing.T) {
	data := []byte(`{
		"transcription": [
			{"offsets": {"from": 0, "to": 2500}, "text": " Hello world."},
			{"offsets": {"from": 2500, "to": 4000}, "text": " Second line."}
		]
	}`)

	cues, err := parseWhisperOutput(data)
	require.NoError(t, err)
	require.Len(t, cues, 2)
	assert.Equal(t, 0.0, cues[0].StartSeconds)
	assert.Equal(t, 2.5, cues[0].EndSeconds)
	assert.Equal(t, " Hello world.", cues[0].Text)
	assert.Equal(t, 4.0, cues[1].EndSeconds)
}

func TestParseWhisperOutputInvalid(t *testing.T) {
	_, err := parseWhisperOutput([]byte("not json"))
	assert.Error(t, err)
}
