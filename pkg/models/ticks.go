package models

import "fmt"

// TicksPerSecond is the timeline clock resolution. 90 kHz is the MPEG
// transport clock, which divides evenly into the integer broadcast rates
// (24, 25, 30, 60) and 29.97 NTSC, so element positions stay frame-exact
// without floating point.
const TicksPerSecond int64 = 90000

// FrameRate is an exact rational frame rate (e.g. 30/1, 30000/1001).
type FrameRate struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// Common frame rates
var (
	FrameRate24    = FrameRate{Num: 24, Den: 1}
	FrameRate25    = FrameRate{Num: 25, Den: 1}
	FrameRate30    = FrameRate{Num: 30, Den: 1}
	FrameRate60    = FrameRate{Num: 60, Den: 1}
	FrameRateNTSC  = FrameRate{Num: 30000, Den: 1001}
	FrameRateNTSC6 = FrameRate{Num: 60000, Den: 1001}
)

// Valid reports whether the rate is usable for frame math.
func (r FrameRate) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// FPS returns the rate as a float, for display and ffmpeg arguments.
func (r FrameRate) FPS() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// String formats the rate as "num/den".
func (r FrameRate) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// TickForFrame returns the first tick belonging to frame index i.
// Rates with a fractional tick-per-frame period (59.94) round up, which
// keeps FrameForTick(TickForFrame(i)) == i for every valid rate.
func (r FrameRate) TickForFrame(i int64) int64 {
	return (i*TicksPerSecond*r.Den + r.Num - 1) / r.Num
}

// FrameForTick returns the frame index covering tick t.
func (r FrameRate) FrameForTick(t int64) int64 {
	return t * r.Num / (TicksPerSecond * r.Den)
}

// FrameCount returns the number of frames needed to cover [0, endTick).
// A 10-second timeline at 30 fps yields exactly 300 frames.
func (r FrameRate) FrameCount(endTick int64) int64 {
	if endTick <= 0 {
		return 0
	}
	num := endTick * r.Num
	den := TicksPerSecond * r.Den
	return (num + den - 1) / den
}

// TicksFromSeconds converts a wall duration to ticks, rounding to nearest.
func TicksFromSeconds(s float64) int64 {
	return int64(s*float64(TicksPerSecond) + 0.5)
}

// SecondsFromTicks converts ticks to seconds.
func SecondsFromTicks(t int64) float64 {
	return float64(t) / float64(TicksPerSecond)
}
