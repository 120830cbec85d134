package pose

import (
	"math"
	"testing"

	"github.com/andresmejia3/headpose/internal/geometry"
	"github.com/andresmejia3/headpose/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name  string
		pitch float64
		yaw   float64
		want  types.Direction
	}{
		{"centered", 0, 0, types.DirectionForward},
		{"yaw at lower bound is forward", 0, -5, types.DirectionForward},
		{"yaw at upper bound is forward", 0, 8, types.DirectionForward},
		{"left", 0, -5.01, types.DirectionLeft},
		{"right", 0, 8.5, types.DirectionRight},
		{"down", -7.5, 0, types.DirectionDown},
		{"up", 7.5, 0, types.DirectionUp},
		{"yaw wins over pitch (left, down)", -30, -30, types.DirectionLeft},
		{"yaw wins over pitch (right, up)", 30, 30, types.DirectionRight},
		{"pitch at bounds is forward", 7, 0, types.DirectionForward},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(types.Pose{Pitch: tt.pitch, Yaw: tt.yaw}, th)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.YawMin = 10
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.PitchMax = bad.PitchMin
	assert.Error(t, bad.Validate())
}

func TestNewEstimatorDefaultsScale(t *testing.T) {
	assert.Equal(t, float64(DefaultAngleScale), NewEstimator(0).AngleScale)
	assert.Equal(t, 1.0, NewEstimator(1).AngleScale)
}

func TestEstimateMissingLandmarks(t *testing.T) {
	e := NewEstimator(0)
	_, err := e.Estimate(types.Face{Landmarks: make([]types.Landmark, 10)}, 640, 480)
	assert.ErrorIs(t, err, geometry.ErrMissingLandmark)
}

// poseFace places the six pose landmarks on whole pixels of a 640x480 frame
// and gives each the depth depth(x-320, y-240).
func poseFace(depth func(dx, dy float64) float64) types.Face {
	lms := make([]types.Landmark, 468)
	pixels := map[int][2]float64{
		geometry.NoseTip:       {320, 270},
		geometry.RightEyeOuter: {240, 180},
		geometry.LeftEyeOuter:  {400, 180},
		geometry.MouthRight:    {280, 360},
		geometry.MouthLeft:     {360, 360},
		geometry.Chin:          {320, 420},
	}
	for idx, px := range pixels {
		lms[idx] = types.Landmark{
			X: px[0] / 640,
			Y: px[1] / 480,
			Z: depth(px[0]-320, px[1]-240),
		}
	}
	return types.Face{Landmarks: lms}
}

func TestEstimate(t *testing.T) {
	// A depth plane z = a*dx is flattened by a yaw of a radians; z = b*dy by a pitch of -b.
	const slope = 0.002
	scaled := slope * 180 / math.Pi * DefaultAngleScale

	tests := []struct {
		name      string
		depth     func(dx, dy float64) float64
		wantPitch float64
		wantYaw   float64
		want      types.Direction
	}{
		{"frontal", func(dx, dy float64) float64 { return 0 }, 0, 0, types.DirectionForward},
		{"turned right", func(dx, dy float64) float64 { return slope * dx }, 0, scaled, types.DirectionRight},
		{"turned left", func(dx, dy float64) float64 { return -slope * dx }, 0, -scaled, types.DirectionLeft},
		{"tilted down", func(dx, dy float64) float64 { return slope * dy }, -scaled, 0, types.DirectionDown},
		{"tilted up", func(dx, dy float64) float64 { return -slope * dy }, scaled, 0, types.DirectionUp},
	}

	e := NewEstimator(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := e.Estimate(poseFace(tt.depth), 640, 480)
			require.NoError(t, err)

			assert.InDelta(t, tt.wantPitch, p.Pitch, 2)
			assert.InDelta(t, tt.wantYaw, p.Yaw, 2)
			assert.InDelta(t, 0, p.Roll, 2)
			assert.Equal(t, types.Point2{X: 320, Y: 270}, p.Nose)
			assert.Equal(t, tt.want, Classify(p, DefaultThresholds()))
		})
	}
}

func TestMatRoundTrip(t *testing.T) {
	src := mat.NewDense(3, 2, []float64{1.5, -2, 0, 3.25, 1e-9, 640})
	m := toMat(src)
	defer m.Close()

	assert.Equal(t, 3, m.Rows())
	assert.Equal(t, 2, m.Cols())
	assert.True(t, mat.Equal(src, fromMat(m)))
}
