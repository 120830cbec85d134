// Package geometry holds the camera model and rotation math used for head pose
// estimation. It works on gonum matrices and never touches OpenCV.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/headpose/internal/types"
	"gonum.org/v1/gonum/mat"
)

// Face mesh indices of the six landmarks used for pose estimation.
const (
	NoseTip       = 1
	RightEyeOuter = 33
	MouthRight    = 61
	Chin          = 199
	LeftEyeOuter  = 263
	MouthLeft     = 291
)

// PoseIndices lists the pose landmarks in the order correspondences are emitted.
var PoseIndices = [6]int{NoseTip, RightEyeOuter, MouthRight, Chin, LeftEyeOuter, MouthLeft}

// NoseDepthScale stretches the nose depth so the projected nose point sits in front of the face.
const NoseDepthScale = 3000

// ErrMissingLandmark is returned when a face does not carry every pose landmark.
var ErrMissingLandmark = errors.New("face is missing pose landmarks")

// Correspondence pairs image points with object points for the PnP solver.
type Correspondence struct {
	Image  [6]types.Point2
	Object [6]types.Point3
	Nose2D types.Point2
	Nose3D types.Point3
}

// Correspondences extracts the 2D/3D point pairs for a face in a width x height frame.
// Pixel coordinates are truncated to whole pixels, the depth is kept as reported by the mesh.
func Correspondences(face types.Face, width, height int) (Correspondence, error) {
	var c Correspondence
	if width <= 0 || height <= 0 {
		return c, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if len(face.Landmarks) <= MouthLeft {
		return c, fmt.Errorf("%w: have %d landmarks", ErrMissingLandmark, len(face.Landmarks))
	}

	w, h := float64(width), float64(height)
	for i, idx := range PoseIndices {
		lm := face.Landmarks[idx]
		x, y := float64(int(lm.X*w)), float64(int(lm.Y*h))
		c.Image[i] = types.Point2{X: x, Y: y}
		c.Object[i] = types.Point3{X: x, Y: y, Z: lm.Z}
		if idx == NoseTip {
			c.Nose2D = types.Point2{X: lm.X * w, Y: lm.Y * h}
			c.Nose3D = types.Point3{X: lm.X * w, Y: lm.Y * h, Z: lm.Z * NoseDepthScale}
		}
	}
	return c, nil
}

// CameraMatrix approximates pinhole intrinsics for an uncalibrated camera:
// focal length equal to the frame width and the principal point at the frame centre.
func CameraMatrix(width, height int) *mat.Dense {
	f := float64(width)
	return mat.NewDense(3, 3, []float64{
		f, 0, float64(width) / 2,
		0, f, float64(height) / 2,
		0, 0, 1,
	})
}

// DistCoeffs returns the zero 4x1 distortion vector.
func DistCoeffs() *mat.Dense {
	return mat.NewDense(4, 1, nil)
}

// Angles are rotations around the x, y and z axes in degrees.
type Angles struct {
	X, Y, Z float64
}

// Decomposition is the result of RQDecompose: M = R * Q with Q = Qz' * Qy' * Qx'.
type Decomposition struct {
	R, Q       *mat.Dense
	Qx, Qy, Qz *mat.Dense
	Angles     Angles
}

// RQDecompose splits a 3x3 matrix into an upper triangular R and an orthogonal Q
// using Givens rotations around x, then y, then z. The diagonal of R is kept positive
// (except the last entry) by folding 180 degree rotations into the Givens factors,
// which yields the same Euler angles as OpenCV's RQDecomp3x3.
func RQDecompose(m mat.Matrix) (Decomposition, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return Decomposition{}, fmt.Errorf("rq decomposition needs a 3x3 matrix, got %dx%d", r, c)
	}
	M := mat.DenseCopyOf(m)
	var R mat.Dense

	s, c := givens(M.At(2, 1), M.At(2, 2))
	qx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, s,
		0, -s, c,
	})
	R.Mul(M, qx)
	R.Set(2, 1, 0)

	s, c = givens(-R.At(2, 0), R.At(2, 2))
	qy := mat.NewDense(3, 3, []float64{
		c, 0, -s,
		0, 1, 0,
		s, 0, c,
	})
	M.Mul(&R, qy)
	M.Set(2, 0, 0)

	s, c = givens(M.At(1, 0), M.At(1, 1))
	qz := mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
	R.Mul(M, qz)
	R.Set(1, 0, 0)

	switch {
	case R.At(0, 0) < 0 && R.At(1, 1) < 0:
		// 180 degrees around z
		negate(&R, [2]int{0, 0}, [2]int{0, 1}, [2]int{1, 1})
		negate(qz, [2]int{0, 0}, [2]int{0, 1}, [2]int{1, 0}, [2]int{1, 1})
	case R.At(0, 0) < 0:
		// 180 degrees around y
		negate(&R, [2]int{0, 0}, [2]int{0, 2}, [2]int{1, 2}, [2]int{2, 2})
		qz = transpose(qz)
		negate(qy, [2]int{0, 0}, [2]int{0, 2}, [2]int{2, 0}, [2]int{2, 2})
	case R.At(1, 1) < 0:
		// 180 degrees around x
		negate(&R, [2]int{0, 1}, [2]int{0, 2}, [2]int{1, 1}, [2]int{1, 2}, [2]int{2, 2})
		qz = transpose(qz)
		qy = transpose(qy)
		negate(qx, [2]int{1, 1}, [2]int{1, 2}, [2]int{2, 1}, [2]int{2, 2})
	}

	var Q, tmp mat.Dense
	tmp.Mul(qz.T(), qy.T())
	Q.Mul(&tmp, qx.T())

	return Decomposition{
		R:  &R,
		Q:  &Q,
		Qx: qx,
		Qy: qy,
		Qz: qz,
		Angles: Angles{
			X: signedAngle(qx.At(1, 1), qx.At(1, 2)),
			Y: signedAngle(qy.At(0, 0), qy.At(2, 0)),
			Z: signedAngle(qz.At(0, 0), qz.At(0, 1)),
		},
	}, nil
}

// IsRotation reports whether m is orthonormal with determinant +1 within tol.
func IsRotation(m mat.Matrix, tol float64) bool {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return false
	}
	var mtm mat.Dense
	mtm.Mul(m.T(), m)
	if !mat.EqualApprox(&mtm, identity(), tol) {
		return false
	}
	return math.Abs(mat.Det(m)-1) <= tol
}

func givens(s, c float64) (float64, float64) {
	z := 1 / math.Sqrt(c*c+s*s+epsilon)
	return s * z, c * z
}

// epsilon keeps givens finite when both inputs are zero.
const epsilon = 2.220446049250313e-16

func signedAngle(cos, sin float64) float64 {
	a := math.Acos(clamp(cos, -1, 1)) * 180 / math.Pi
	if sin < 0 {
		return -a
	}
	return a
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func negate(m *mat.Dense, cells ...[2]int) {
	for _, rc := range cells {
		m.Set(rc[0], rc[1], -m.At(rc[0], rc[1]))
	}
}

func transpose(m *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(m.T())
}

func identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}
