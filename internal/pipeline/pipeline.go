// Package pipeline runs the per-frame loop: landmarks, pose, classification,
// overlay, then every sink in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/headpose/internal/landmark"
	"github.com/andresmejia3/headpose/internal/logging"
	"github.com/andresmejia3/headpose/internal/overlay"
	"github.com/andresmejia3/headpose/internal/pose"
	"github.com/andresmejia3/headpose/internal/types"
	"github.com/andresmejia3/headpose/internal/video"
	"gocv.io/x/gocv"
)

// ErrStop is returned by a sink to end the run early without an error.
var ErrStop = errors.New("stopped by sink")

// FrameSource yields frames until end-of-stream.
type FrameSource interface {
	Read(dst *gocv.Mat) bool
	Info() video.Info
}

// PoseEstimator turns a face into a pose.
type PoseEstimator interface {
	Estimate(face types.Face, width, height int) (types.Pose, error)
}

// Sink consumes annotated frames.
type Sink interface {
	Consume(frame *gocv.Mat, res types.FrameResult) error
	Close() error
}

// Pipeline holds the per-frame stages.
type Pipeline struct {
	Landmarker landmark.Landmarker
	Estimator  PoseEstimator
	Thresholds pose.Thresholds
	Renderer   *overlay.Renderer // nil disables drawing
	Mirror     bool
	Info       video.Info
}

// Stats summarises a run.
type Stats struct {
	Frames      int
	FacesFound  int
	ByDirection map[types.Direction]int
	Stopped     bool
	Duration    time.Duration
}

// ProcessFrame runs every stage on frame, drawing the overlay in place.
func (p *Pipeline) ProcessFrame(index int, frame *gocv.Mat) (types.FrameResult, error) {
	start := time.Now()
	res := types.FrameResult{
		Index:     index,
		VideoTime: p.Info.VideoTime(index),
		Offset:    p.Info.Offset(index),
	}

	if p.Mirror {
		if err := gocv.Flip(*frame, frame, 1); err != nil {
			return res, fmt.Errorf("frame %d: mirror: %w", index, err)
		}
	}

	faces, err := p.Landmarker.Detect(*frame)
	if err != nil {
		return res, fmt.Errorf("frame %d: landmark detection: %w", index, err)
	}

	if face := landmark.Primary(faces); face != nil {
		est, err := p.Estimator.Estimate(*face, frame.Cols(), frame.Rows())
		if err != nil {
			logging.Debug(logging.Fields{"frame": index, "error": err}, "pose estimation failed, treating frame as faceless")
		} else {
			res.Face = face
			res.Pose = est
			res.HasPose = true
			res.Direction = pose.Classify(est, p.Thresholds)
		}
	}

	res.Elapsed = time.Since(start)
	if p.Renderer != nil {
		p.Renderer.Render(frame, res)
	}
	return res, nil
}

// Run reads src until end-of-stream, cancellation or a sink returning ErrStop.
// Sinks are closed on every exit path.
func (p *Pipeline) Run(ctx context.Context, src FrameSource, sinks ...Sink) (stats Stats, err error) {
	p.Info = src.Info()
	stats.ByDirection = make(map[types.Direction]int)
	begin := time.Now()

	defer func() {
		stats.Duration = time.Since(begin)
		var closeErrs []error
		for _, s := range sinks {
			if cerr := s.Close(); cerr != nil {
				closeErrs = append(closeErrs, cerr)
			}
		}
		if len(closeErrs) > 0 {
			err = errors.Join(append([]error{err}, closeErrs...)...)
		}
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !src.Read(&frame) {
			logging.Debug(logging.Fields{"frames": stats.Frames}, "end of stream")
			return stats, nil
		}

		res, err := p.ProcessFrame(index, &frame)
		if err != nil {
			return stats, err
		}

		stats.Frames++
		if res.HasPose {
			stats.FacesFound++
			stats.ByDirection[res.Direction]++
		}

		for _, s := range sinks {
			if err := s.Consume(&frame, res); err != nil {
				if errors.Is(err, ErrStop) {
					stats.Stopped = true
					return stats, nil
				}
				return stats, err
			}
		}
	}
}
