package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/headpose/internal/logging"
	"github.com/andresmejia3/headpose/internal/timeline"
	"github.com/andresmejia3/headpose/internal/types"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"gocv.io/x/gocv"
)

// Keys that end a live preview.
const (
	keyStop = 's'
	keyEsc  = 27
)

// WindowSink shows frames in a preview window.
type WindowSink struct {
	window *gocv.Window
}

// NewWindowSink opens a window titled name.
func NewWindowSink(name string) *WindowSink {
	return &WindowSink{window: gocv.NewWindow(name)}
}

func (s *WindowSink) Consume(frame *gocv.Mat, _ types.FrameResult) error {
	s.window.IMShow(*frame)
	if isStopKey(s.window.WaitKey(1)) {
		return ErrStop
	}
	return nil
}

func (s *WindowSink) Close() error {
	s.window.Close()
	return nil
}

func isStopKey(key int) bool {
	return key == keyStop || key == keyEsc
}

// WriterSink encodes annotated frames into a video file.
type WriterSink struct {
	writer *gocv.VideoWriter
	path   string
}

// NewWriterSink creates path as an mp4v video of width x height at fps.
func NewWriterSink(path string, fps float64, width, height int) (*WriterSink, error) {
	w, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create output video %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("failed to open output video %s", path)
	}
	return &WriterSink{writer: w, path: path}, nil
}

func (s *WriterSink) Consume(frame *gocv.Mat, _ types.FrameResult) error {
	if err := s.writer.Write(*frame); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

func (s *WriterSink) Close() error {
	return s.writer.Close()
}

// ProgressSink advances a progress bar on stderr. total <= 0 shows a spinner.
type ProgressSink struct {
	bar *progressbar.ProgressBar
}

// NewProgressSink builds a bar for total frames.
func NewProgressSink(total int, description string) *ProgressSink {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	return &ProgressSink{bar: bar}
}

func (s *ProgressSink) Consume(_ *gocv.Mat, _ types.FrameResult) error {
	return s.bar.Add(1)
}

func (s *ProgressSink) Close() error {
	return s.bar.Finish()
}

// TimelineSink folds frames into direction intervals.
type TimelineSink struct {
	agg       *timeline.Aggregator
	intervals []timeline.Interval
	closed    bool
}

// NewTimelineSink wraps agg.
func NewTimelineSink(agg *timeline.Aggregator) *TimelineSink {
	return &TimelineSink{agg: agg}
}

func (s *TimelineSink) Consume(_ *gocv.Mat, res types.FrameResult) error {
	s.agg.Add(res)
	return nil
}

func (s *TimelineSink) Close() error {
	if !s.closed {
		s.intervals = s.agg.Flush()
		s.closed = true
	}
	return nil
}

// Intervals returns the merged intervals. It closes the sink first if needed.
func (s *TimelineSink) Intervals() []timeline.Interval {
	s.Close()
	return s.intervals
}

// Recorder persists samples and intervals for a session.
type Recorder interface {
	InsertSamples(ctx context.Context, sessionID uuid.UUID, samples []types.Sample) error
	InsertIntervals(ctx context.Context, sessionID uuid.UUID, intervals []timeline.Interval) error
}

// DefaultBatchSize is how many samples RecorderSink buffers before writing.
const DefaultBatchSize = 500

// RecorderSink writes every posed frame to a Recorder in batches, then the
// timeline's intervals when it is closed.
type RecorderSink struct {
	ctx       context.Context
	rec       Recorder
	sessionID uuid.UUID
	timeline  *TimelineSink
	batchSize int
	batch     []types.Sample
	written   int
}

// NewRecorderSink records into session. tl may be nil to skip intervals.
func NewRecorderSink(ctx context.Context, rec Recorder, sessionID uuid.UUID, tl *TimelineSink) *RecorderSink {
	return &RecorderSink{
		// Buffered samples still get written after an interrupt.
		ctx:       context.WithoutCancel(ctx),
		rec:       rec,
		sessionID: sessionID,
		timeline:  tl,
		batchSize: DefaultBatchSize,
	}
}

func (s *RecorderSink) Consume(_ *gocv.Mat, res types.FrameResult) error {
	if !res.HasPose {
		return nil
	}
	s.batch = append(s.batch, types.SampleFrom(res))
	if len(s.batch) >= s.batchSize {
		return s.flush()
	}
	return nil
}

func (s *RecorderSink) flush() error {
	if len(s.batch) == 0 {
		return nil
	}
	if err := s.rec.InsertSamples(s.ctx, s.sessionID, s.batch); err != nil {
		return fmt.Errorf("failed to record %d samples: %w", len(s.batch), err)
	}
	s.written += len(s.batch)
	s.batch = s.batch[:0]
	return nil
}

func (s *RecorderSink) Close() error {
	if err := s.flush(); err != nil {
		return err
	}
	if s.timeline == nil {
		return nil
	}
	intervals := s.timeline.Intervals()
	if err := s.rec.InsertIntervals(s.ctx, s.sessionID, intervals); err != nil {
		return fmt.Errorf("failed to record intervals: %w", err)
	}
	logging.Info(logging.Fields{"session": s.sessionID, "samples": s.written, "intervals": len(intervals)}, "session recorded")
	return nil
}

// Written is the number of samples flushed so far.
func (s *RecorderSink) Written() int { return s.written }
