package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresmejia3/headpose/internal/pose"
	"github.com/andresmejia3/headpose/internal/timeline"
	"github.com/andresmejia3/headpose/internal/types"
	"github.com/andresmejia3/headpose/internal/video"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fakeSource struct {
	frames int
	read   int
	info   video.Info
}

func (s *fakeSource) Read(dst *gocv.Mat) bool {
	if s.read >= s.frames {
		return false
	}
	s.read++
	m := gocv.Zeros(48, 64, gocv.MatTypeCV8UC3)
	defer m.Close()
	m.CopyTo(dst)
	return true
}

func (s *fakeSource) Info() video.Info { return s.info }

// fakeLandmarker reports a face on every frame except those listed in skip.
type fakeLandmarker struct {
	calls int
	skip  map[int]bool
	err   error
}

func (l *fakeLandmarker) Detect(frame gocv.Mat) ([]types.Face, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	if l.skip[l.calls] {
		return nil, nil
	}
	return []types.Face{{Score: 0.4}, {Score: 0.9}}, nil
}

func (l *fakeLandmarker) Close() error { return nil }

// fakeEstimator returns poses in sequence and fails on a score it was told to reject.
type fakeEstimator struct {
	poses []types.Pose
	n     int
	fail  bool
	seen  []float64
}

func (e *fakeEstimator) Estimate(face types.Face, width, height int) (types.Pose, error) {
	e.seen = append(e.seen, face.Score)
	if e.fail {
		return types.Pose{}, pose.ErrSolveFailed
	}
	p := e.poses[e.n%len(e.poses)]
	e.n++
	return p, nil
}

type recordingSink struct {
	results []types.FrameResult
	stopAt  int
	err     error
	closed  int
}

func (s *recordingSink) Consume(_ *gocv.Mat, res types.FrameResult) error {
	s.results = append(s.results, res)
	if s.err != nil {
		return s.err
	}
	if s.stopAt > 0 && len(s.results) >= s.stopAt {
		return ErrStop
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.closed++
	return nil
}

func newPipeline(lm *fakeLandmarker, est *fakeEstimator) *Pipeline {
	return &Pipeline{
		Landmarker: lm,
		Estimator:  est,
		Thresholds: pose.DefaultThresholds(),
	}
}

func TestRunClassifiesEveryFrame(t *testing.T) {
	src := &fakeSource{frames: 4, info: video.Info{FPS: 2, StartTime: time.Date(2024, 1, 31, 8, 45, 0, 0, time.UTC)}}
	est := &fakeEstimator{poses: []types.Pose{{Yaw: -10}, {Yaw: 12}, {Pitch: -9}, {}}}
	p := newPipeline(&fakeLandmarker{}, est)
	sink := &recordingSink{}

	stats, err := p.Run(context.Background(), src, sink)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Frames)
	assert.Equal(t, 4, stats.FacesFound)
	assert.False(t, stats.Stopped)
	assert.Equal(t, 1, sink.closed)

	require.Len(t, sink.results, 4)
	want := []types.Direction{types.DirectionLeft, types.DirectionRight, types.DirectionDown, types.DirectionForward}
	for i, res := range sink.results {
		assert.Equal(t, i+1, res.Index)
		assert.Equal(t, want[i], res.Direction)
		assert.Equal(t, 1, stats.ByDirection[want[i]])
	}

	// Frame 3 at 2 fps is 1.5s in, rounded to 2s.
	assert.Equal(t, src.info.StartTime.Add(2*time.Second), sink.results[2].VideoTime)

	// Only the highest scoring face reaches the estimator.
	for _, score := range est.seen {
		assert.Equal(t, 0.9, score)
	}
}

func TestRunFacelessFrames(t *testing.T) {
	src := &fakeSource{frames: 3, info: video.Info{FPS: 30}}
	lm := &fakeLandmarker{skip: map[int]bool{2: true}}
	p := newPipeline(lm, &fakeEstimator{poses: []types.Pose{{}}})
	sink := &recordingSink{}

	stats, err := p.Run(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Frames)
	assert.Equal(t, 2, stats.FacesFound)

	assert.False(t, sink.results[1].HasPose)
	assert.Nil(t, sink.results[1].Face)
	assert.Equal(t, types.DirectionNone, sink.results[1].Direction)
}

func TestRunSolveFailureIsFaceless(t *testing.T) {
	src := &fakeSource{frames: 2, info: video.Info{FPS: 30}}
	p := newPipeline(&fakeLandmarker{}, &fakeEstimator{fail: true})
	sink := &recordingSink{}

	stats, err := p.Run(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FacesFound)
	for _, res := range sink.results {
		assert.False(t, res.HasPose)
	}
}

func TestRunStopsOnErrStop(t *testing.T) {
	src := &fakeSource{frames: 10, info: video.Info{FPS: 30}}
	p := newPipeline(&fakeLandmarker{}, &fakeEstimator{poses: []types.Pose{{}}})
	stopper := &recordingSink{stopAt: 3}
	after := &recordingSink{}

	stats, err := p.Run(context.Background(), src, stopper, after)
	require.NoError(t, err)
	assert.True(t, stats.Stopped)
	assert.Equal(t, 3, stats.Frames)
	assert.Len(t, after.results, 2, "sinks after the stopper miss the stopping frame")
	assert.Equal(t, 1, after.closed)
}

func TestRunPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	src := &fakeSource{frames: 5, info: video.Info{FPS: 30}}
	p := newPipeline(&fakeLandmarker{err: boom}, &fakeEstimator{poses: []types.Pose{{}}})
	sink := &recordingSink{}
	_, err := p.Run(context.Background(), src, sink)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sink.closed)

	src = &fakeSource{frames: 5, info: video.Info{FPS: 30}}
	p = newPipeline(&fakeLandmarker{}, &fakeEstimator{poses: []types.Pose{{}}})
	_, err = p.Run(context.Background(), src, &recordingSink{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{frames: 5, info: video.Info{FPS: 30}}
	p := newPipeline(&fakeLandmarker{}, &fakeEstimator{poses: []types.Pose{{}}})
	stats, err := p.Run(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Frames)
}

func TestProcessFrameMirrors(t *testing.T) {
	frame := gocv.Zeros(2, 2, gocv.MatTypeCV8U)
	defer frame.Close()
	frame.SetUCharAt(0, 0, 200)

	p := newPipeline(&fakeLandmarker{}, &fakeEstimator{poses: []types.Pose{{}}})
	p.Mirror = true
	_, err := p.ProcessFrame(1, &frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), frame.GetUCharAt(0, 0))
	assert.Equal(t, uint8(200), frame.GetUCharAt(0, 1))
}

type fakeRecorder struct {
	batches   [][]types.Sample
	intervals []timeline.Interval
	ctxErr    error
}

func (r *fakeRecorder) InsertSamples(ctx context.Context, _ uuid.UUID, samples []types.Sample) error {
	r.ctxErr = ctx.Err()
	r.batches = append(r.batches, append([]types.Sample(nil), samples...))
	return nil
}

func (r *fakeRecorder) InsertIntervals(_ context.Context, _ uuid.UUID, intervals []timeline.Interval) error {
	r.intervals = intervals
	return nil
}

func TestRecorderSinkBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &fakeRecorder{}
	tl := NewTimelineSink(timeline.NewAggregator(10, time.Second, 0))
	sink := NewRecorderSink(ctx, rec, uuid.New(), tl)
	sink.batchSize = 2

	for i := 1; i <= 5; i++ {
		res := types.FrameResult{Index: i, HasPose: i != 3, Direction: types.DirectionForward}
		require.NoError(t, tl.Consume(nil, res))
		require.NoError(t, sink.Consume(nil, res))
	}
	assert.Len(t, rec.batches, 2)

	// An interrupted run still writes what it buffered.
	cancel()
	require.NoError(t, tl.Close())
	require.NoError(t, sink.Close())

	assert.NoError(t, rec.ctxErr)
	assert.Len(t, rec.batches, 2, "four posed frames fit in two batches")
	assert.Equal(t, 4, sink.Written())
	require.Len(t, rec.intervals, 1)
	assert.Equal(t, 1, rec.intervals[0].StartFrame)
	assert.Equal(t, 5, rec.intervals[0].EndFrame)
}

func TestTimelineSinkCloseIsIdempotent(t *testing.T) {
	tl := NewTimelineSink(timeline.NewAggregator(10, time.Second, 0))
	require.NoError(t, tl.Consume(nil, types.FrameResult{Index: 1, HasPose: true, Direction: types.DirectionUp}))
	require.NoError(t, tl.Close())
	require.NoError(t, tl.Close())
	assert.Len(t, tl.Intervals(), 1)
}

func TestIsStopKey(t *testing.T) {
	assert.True(t, isStopKey('s'))
	assert.True(t, isStopKey(27))
	assert.False(t, isStopKey(-1))
	assert.False(t, isStopKey('q'))
}
