// Package timeline merges per-frame direction labels into intervals.
package timeline

import (
	"time"

	"github.com/andresmejia3/headpose/internal/types"
)

// Interval is a run of frames sharing one direction.
type Interval struct {
	Direction  types.Direction
	StartFrame int
	EndFrame   int
	Start      float64 // seconds
	End        float64 // seconds
	Frames     int
	MeanPitch  float64
	MeanYaw    float64
}

// Duration is End - Start in seconds.
func (iv Interval) Duration() float64 { return iv.End - iv.Start }

type activeInterval struct {
	Direction  types.Direction
	StartFrame int
	LastFrame  int
	Count      int
	SumPitch   float64
	SumYaw     float64
}

// Aggregator closes an interval when the direction changes or when no pose is
// seen for longer than Grace. Intervals shorter than MinDuration are dropped.
type Aggregator struct {
	FPS         float64
	Grace       time.Duration
	MinDuration time.Duration

	open      *activeInterval
	intervals []Interval
}

// NewAggregator returns an Aggregator for a stream at fps.
func NewAggregator(fps float64, grace, minDuration time.Duration) *Aggregator {
	return &Aggregator{FPS: fps, Grace: grace, MinDuration: minDuration}
}

func (a *Aggregator) maxGapFrames() int {
	gap := int(a.Grace.Seconds() * a.FPS)
	if gap < 1 {
		gap = 1 // Ensure at least 1 frame gap to prevent instant closing
	}
	return gap
}

// Add feeds one frame. Frames must arrive in index order.
func (a *Aggregator) Add(res types.FrameResult) {
	if a.open != nil && res.Index-a.open.LastFrame > a.maxGapFrames() {
		a.close()
	}
	if !res.HasPose || res.Direction == types.DirectionNone {
		return
	}

	if a.open != nil && a.open.Direction != res.Direction {
		a.close()
	}
	if a.open == nil {
		a.open = &activeInterval{Direction: res.Direction, StartFrame: res.Index}
	}
	a.open.LastFrame = res.Index
	a.open.Count++
	a.open.SumPitch += res.Pose.Pitch
	a.open.SumYaw += res.Pose.Yaw
}

// Flush closes the open interval and returns every interval kept so far.
func (a *Aggregator) Flush() []Interval {
	if a.open != nil {
		a.close()
	}
	return a.intervals
}

func (a *Aggregator) close() {
	t := a.open
	a.open = nil

	fps := a.FPS
	if fps <= 0 {
		fps = 1
	}
	startSec := float64(t.StartFrame) / fps
	endSec := float64(t.LastFrame) / fps

	// Filter short intervals (blips)
	if (endSec - startSec) < a.MinDuration.Seconds() {
		return
	}

	a.intervals = append(a.intervals, Interval{
		Direction:  t.Direction,
		StartFrame: t.StartFrame,
		EndFrame:   t.LastFrame,
		Start:      startSec,
		End:        endSec,
		Frames:     t.Count,
		MeanPitch:  t.SumPitch / float64(t.Count),
		MeanYaw:    t.SumYaw / float64(t.Count),
	})
}

// Totals sums interval durations per direction, in seconds.
func Totals(intervals []Interval) map[types.Direction]float64 {
	totals := make(map[types.Direction]float64)
	for _, iv := range intervals {
		totals[iv.Direction] += iv.Duration()
	}
	return totals
}
