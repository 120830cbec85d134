package geometry

import (
	"math"
	"testing"

	"github.com/andresmejia3/headpose/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func rotX(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

func rotY(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

func rotZ(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func TestRQDecomposeSingleAxis(t *testing.T) {
	tests := []struct {
		name string
		m    *mat.Dense
		want Angles
	}{
		{"identity", identity(), Angles{}},
		{"pitch up", rotX(12), Angles{X: 12}},
		{"pitch down", rotX(-20), Angles{X: -20}},
		{"yaw right", rotY(15), Angles{Y: 15}},
		{"yaw left", rotY(-9), Angles{Y: -9}},
		{"roll", rotZ(30), Angles{Z: 30}},
		{"roll negative", rotZ(-45), Angles{Z: -45}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := RQDecompose(tt.m)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.X, d.Angles.X, 1e-6)
			assert.InDelta(t, tt.want.Y, d.Angles.Y, 1e-6)
			assert.InDelta(t, tt.want.Z, d.Angles.Z, 1e-6)
		})
	}
}

func TestRQDecomposeReconstructs(t *testing.T) {
	// Composite rotation Rz * Ry * Rx, the same order the Givens factors undo.
	var tmp, m mat.Dense
	tmp.Mul(rotZ(7), rotY(-11))
	m.Mul(&tmp, rotX(4))

	d, err := RQDecompose(&m)
	require.NoError(t, err)

	var back mat.Dense
	back.Mul(d.R, d.Q)
	assert.True(t, mat.EqualApprox(&back, &m, 1e-9), "R*Q should equal the input")
	assert.True(t, IsRotation(d.Q, 1e-9))

	// For a pure rotation R is the identity and the angles recover the composition.
	assert.True(t, mat.EqualApprox(d.R, identity(), 1e-9))
	assert.InDelta(t, 4, d.Angles.X, 1e-6)
	assert.InDelta(t, -11, d.Angles.Y, 1e-6)
	assert.InDelta(t, 7, d.Angles.Z, 1e-6)
}

func TestRQDecomposeKeepsDiagonalPositive(t *testing.T) {
	// A half turn around z still decomposes with a non-negative diagonal.
	d, err := RQDecompose(rotZ(180))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.R.At(0, 0), 0.0)
	assert.GreaterOrEqual(t, d.R.At(1, 1), 0.0)

	var back mat.Dense
	back.Mul(d.R, d.Q)
	assert.True(t, mat.EqualApprox(&back, rotZ(180), 1e-9))
}

func TestRQDecomposeRejectsWrongShape(t *testing.T) {
	_, err := RQDecompose(mat.NewDense(2, 3, nil))
	assert.Error(t, err)
}

func TestIsRotation(t *testing.T) {
	assert.True(t, IsRotation(rotY(33), 1e-9))
	assert.False(t, IsRotation(mat.NewDense(3, 3, []float64{2, 0, 0, 0, 2, 0, 0, 0, 2}), 1e-6))
	// Reflection: orthonormal but det = -1.
	assert.False(t, IsRotation(mat.NewDense(3, 3, []float64{-1, 0, 0, 0, 1, 0, 0, 0, 1}), 1e-6))
}

func TestCameraMatrix(t *testing.T) {
	cam := CameraMatrix(640, 480)
	want := mat.NewDense(3, 3, []float64{
		640, 0, 320,
		0, 640, 240,
		0, 0, 1,
	})
	assert.True(t, mat.Equal(cam, want))

	dist := DistCoeffs()
	r, c := dist.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 1, c)
	assert.Zero(t, mat.Sum(dist))
}

func meshFace() types.Face {
	lms := make([]types.Landmark, 468)
	for i := range lms {
		lms[i] = types.Landmark{X: 0.5, Y: 0.5}
	}
	lms[NoseTip] = types.Landmark{X: 0.501, Y: 0.5625, Z: -0.02}
	lms[RightEyeOuter] = types.Landmark{X: 0.375, Y: 0.375, Z: 0.01}
	lms[LeftEyeOuter] = types.Landmark{X: 0.625, Y: 0.375, Z: 0.01}
	lms[MouthRight] = types.Landmark{X: 0.4375, Y: 0.75, Z: 0.005}
	lms[MouthLeft] = types.Landmark{X: 0.5625, Y: 0.75, Z: 0.005}
	lms[Chin] = types.Landmark{X: 0.5, Y: 0.875, Z: 0.002}
	return types.Face{Landmarks: lms}
}

func TestCorrespondences(t *testing.T) {
	c, err := Correspondences(meshFace(), 640, 480)
	require.NoError(t, err)

	// Ascending mesh index order: nose, right eye, right mouth, chin, left eye, left mouth.
	assert.Equal(t, types.Point2{X: 320, Y: 270}, c.Image[0])
	assert.Equal(t, types.Point2{X: 240, Y: 180}, c.Image[1])
	assert.Equal(t, types.Point2{X: 280, Y: 360}, c.Image[2])
	assert.Equal(t, types.Point2{X: 320, Y: 420}, c.Image[3])
	assert.Equal(t, types.Point2{X: 400, Y: 180}, c.Image[4])
	assert.Equal(t, types.Point2{X: 360, Y: 360}, c.Image[5])

	// Object points reuse the truncated pixels with the raw depth.
	assert.Equal(t, types.Point3{X: 240, Y: 180, Z: 0.01}, c.Object[1])

	// The nose keeps sub-pixel precision and a stretched depth.
	assert.InDelta(t, 320.64, c.Nose2D.X, 1e-9)
	assert.InDelta(t, 270, c.Nose2D.Y, 1e-9)
	assert.InDelta(t, -60, c.Nose3D.Z, 1e-9)
}

func TestCorrespondencesErrors(t *testing.T) {
	_, err := Correspondences(types.Face{Landmarks: make([]types.Landmark, 100)}, 640, 480)
	assert.ErrorIs(t, err, ErrMissingLandmark)

	_, err = Correspondences(meshFace(), 0, 480)
	assert.Error(t, err)
}
