package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/pkg/models"
)

// FFmpegRenderer composites frames by shelling out to ffmpeg: the topmost
// active video layer is decoded to raw RGB at the output geometry, active
// audio layers are mixed into the frame's PCM window, and the active cue
// is burned in with drawtext when captions are enabled.
type FFmpegRenderer struct {
	ffmpegPath string
	logger     *logging.Logger
}

// NewFFmpegRenderer creates the renderer.
func NewFFmpegRenderer(ffmpegPath string, logger *logging.Logger) *FFmpegRenderer {
	return &FFmpegRenderer{ffmpegPath: ffmpegPath, logger: logger}
}

// RenderFrame implements Renderer.
func (r *FFmpegRenderer) RenderFrame(ctx context.Context, active []ActiveElement, req *FrameRequest) (*FrameBuffer, error) {
	buf := &FrameBuffer{Index: req.Index, Tick: req.Tick}

	video, cue := splitLayers(active)

	if top := topVideoLayer(video); top != nil {
		pixels, err := r.extractVideo(ctx, top, cue, req)
		if err != nil {
			return nil, err
		}
		buf.Video = pixels
	} else {
		buf.Video = blackPixels(req)
	}

	audio, err := r.mixAudio(ctx, audioLayers(active), req)
	if err != nil {
		return nil, err
	}
	buf.Audio = audio

	return buf, nil
}

// BlackFrame implements Renderer. Zeroed RGB is black and zeroed PCM is
// silence, so no ffmpeg run is needed.
func (r *FFmpegRenderer) BlackFrame(req *FrameRequest) *FrameBuffer {
	return &FrameBuffer{
		Index:    req.Index,
		Tick:     req.Tick,
		Video:    blackPixels(req),
		Audio:    silenceSamples(req),
		Fallback: true,
	}
}

func (r *FFmpegRenderer) extractVideo(ctx context.Context, layer *ActiveElement, cue *ActiveElement, req *FrameRequest) ([]byte, error) {
	if layer.Asset == nil {
		return nil, fmt.Errorf("element %s references unknown asset %s", layer.Element.ID, layer.Element.AssetID)
	}

	settings := req.Settings
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		settings.Width, settings.Height, settings.Width, settings.Height)
	if cue != nil && cue.Cue != nil {
		filter += "," + drawtextFilter(cue.Cue.Text, settings.Height)
	}

	var args []string
	// Still images hold one frame; seeking into them fails.
	if layer.Asset.Kind != models.AssetKindImage {
		args = append(args, "-ss", fmt.Sprintf("%.6f", models.SecondsFromTicks(layer.SourceTick)))
	}
	args = append(args,
		"-i", layer.Asset.SourceURL,
		"-vframes", "1",
		"-vf", filter,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to extract frame: %w, stderr: %s", err, stderr.String())
	}

	pixels := stdout.Bytes()
	want := frameBytes(req)
	if len(pixels) != want {
		return nil, fmt.Errorf("frame extraction returned %d bytes, expected %d", len(pixels), want)
	}
	return pixels, nil
}

// mixAudio pulls the frame's PCM window from every active audio layer in
// one ffmpeg run, amix-ing when more than one layer is live.
func (r *FFmpegRenderer) mixAudio(ctx context.Context, layers []ActiveElement, req *FrameRequest) ([]byte, error) {
	if len(layers) == 0 {
		return silenceSamples(req), nil
	}

	settings := req.Settings
	windowSeconds := models.SecondsFromTicks(req.EndTick - req.Tick)

	var args []string
	for _, layer := range layers {
		if layer.Asset == nil {
			return nil, fmt.Errorf("element %s references unknown asset %s", layer.Element.ID, layer.Element.AssetID)
		}
		args = append(args,
			"-ss", fmt.Sprintf("%.6f", models.SecondsFromTicks(layer.SourceTick)),
			"-t", fmt.Sprintf("%.6f", windowSeconds),
			"-i", layer.Asset.SourceURL,
		)
	}

	if len(layers) > 1 {
		var inputs strings.Builder
		for i := range layers {
			fmt.Fprintf(&inputs, "[%d:a]", i)
		}
		args = append(args,
			"-filter_complex",
			fmt.Sprintf("%samix=inputs=%d:duration=longest[aout]", inputs.String(), len(layers)),
			"-map", "[aout]",
		)
	} else {
		args = append(args, "-map", "0:a")
	}

	args = append(args,
		"-f", "s16le",
		"-ac", fmt.Sprintf("%d", settings.Channels),
		"-ar", fmt.Sprintf("%d", settings.SampleRate),
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to extract audio window: %w, stderr: %s", err, stderr.String())
	}

	// Decoders round the window to sample boundaries; pad or trim to the
	// exact frame width so the encoder never drifts.
	samples := stdout.Bytes()
	want := audioBytes(req)
	if len(samples) < want {
		samples = append(samples, make([]byte, want-len(samples))...)
	}
	return samples[:want], nil
}

func drawtextFilter(text string, height int) string {
	escaped := strings.NewReplacer(
		"\\", "\\\\",
		"'", "\\'",
		":", "\\:",
		"%", "\\%",
	).Replace(text)
	escaped = strings.ReplaceAll(escaped, "\n", " ")
	fontSize := height / 18
	return fmt.Sprintf(
		"drawtext=text='%s':fontsize=%d:fontcolor=white:borderw=2:bordercolor=black:x=(w-text_w)/2:y=h-text_h-%d",
		escaped, fontSize, height/12)
}

func splitLayers(active []ActiveElement) (video []ActiveElement, cue *ActiveElement) {
	for i := range active {
		layer := &active[i]
		switch {
		case layer.Cue != nil:
			// Topmost caption track wins when several are burned.
			cue = layer
		case layer.Track.Kind == models.TrackKindVideo:
			video = append(video, *layer)
		}
	}
	return video, cue
}

// topVideoLayer picks the layer that draws last. Image and video elements
// share video tracks, so one extract covers both.
func topVideoLayer(video []ActiveElement) *ActiveElement {
	if len(video) == 0 {
		return nil
	}
	sort.SliceStable(video, func(i, j int) bool { return video[i].LayerIndex < video[j].LayerIndex })
	return &video[len(video)-1]
}

func audioLayers(active []ActiveElement) []ActiveElement {
	var out []ActiveElement
	for _, layer := range active {
		if layer.Track.Kind == models.TrackKindAudio {
			out = append(out, layer)
		}
	}
	return out
}

func frameBytes(req *FrameRequest) int {
	return req.Settings.Width * req.Settings.Height * 3
}

func audioBytes(req *FrameRequest) int {
	return int(req.Samples) * req.Settings.Channels * 2
}

func blackPixels(req *FrameRequest) []byte {
	return make([]byte, frameBytes(req))
}

func silenceSamples(req *FrameRequest) []byte {
	return make([]byte, audioBytes(req))
}
