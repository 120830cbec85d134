// Package pose turns face landmarks into head rotation angles and a direction label.
package pose

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/headpose/internal/geometry"
	"github.com/andresmejia3/headpose/internal/types"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// DefaultAngleScale multiplies the decomposed angles. The default thresholds are
// expressed on this scale.
const DefaultAngleScale = 360

// solvePnPIterative is cv::SOLVEPNP_ITERATIVE.
const solvePnPIterative = 0

// ErrSolveFailed is returned when the PnP solver does not converge.
var ErrSolveFailed = errors.New("solvePnP failed")

// Estimator computes head pose from the six pose landmarks.
type Estimator struct {
	AngleScale float64
}

// NewEstimator returns an Estimator using scale, or DefaultAngleScale when scale <= 0.
func NewEstimator(scale float64) *Estimator {
	if scale <= 0 {
		scale = DefaultAngleScale
	}
	return &Estimator{AngleScale: scale}
}

// Estimate solves the camera pose for face in a width x height frame.
func (e *Estimator) Estimate(face types.Face, width, height int) (types.Pose, error) {
	c, err := geometry.Correspondences(face, width, height)
	if err != nil {
		return types.Pose{}, err
	}

	objectPoints := make([]gocv.Point3f, len(c.Object))
	imagePoints := make([]gocv.Point2f, len(c.Image))
	for i := range c.Object {
		objectPoints[i] = gocv.Point3f{X: float32(c.Object[i].X), Y: float32(c.Object[i].Y), Z: float32(c.Object[i].Z)}
		imagePoints[i] = gocv.Point2f{X: float32(c.Image[i].X), Y: float32(c.Image[i].Y)}
	}
	objVec := gocv.NewPoint3fVectorFromPoints(objectPoints)
	defer objVec.Close()
	imgVec := gocv.NewPoint2fVectorFromPoints(imagePoints)
	defer imgVec.Close()

	camera := toMat(geometry.CameraMatrix(width, height))
	defer camera.Close()
	dist := toMat(geometry.DistCoeffs())
	defer dist.Close()

	rvec := gocv.NewMat()
	defer rvec.Close()
	tvec := gocv.NewMat()
	defer tvec.Close()

	if !gocv.SolvePnP(objVec, imgVec, camera, dist, &rvec, &tvec, false, solvePnPIterative) {
		return types.Pose{}, ErrSolveFailed
	}

	rmat := gocv.NewMat()
	defer rmat.Close()
	if err := gocv.Rodrigues(rvec, &rmat); err != nil {
		return types.Pose{}, fmt.Errorf("rodrigues: %w", err)
	}
	if rmat.Rows() != 3 || rmat.Cols() != 3 {
		return types.Pose{}, fmt.Errorf("rodrigues returned a %dx%d matrix", rmat.Rows(), rmat.Cols())
	}

	d, err := geometry.RQDecompose(fromMat(rmat))
	if err != nil {
		return types.Pose{}, err
	}

	return types.Pose{
		Pitch: d.Angles.X * e.AngleScale,
		Yaw:   d.Angles.Y * e.AngleScale,
		Roll:  d.Angles.Z * e.AngleScale,
		Nose:  c.Nose2D,
	}, nil
}

func toMat(m *mat.Dense) gocv.Mat {
	r, c := m.Dims()
	out := gocv.NewMatWithSize(r, c, gocv.MatTypeCV64F)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.SetDoubleAt(i, j, m.At(i, j))
		}
	}
	return out
}

func fromMat(m gocv.Mat) *mat.Dense {
	out := mat.NewDense(m.Rows(), m.Cols(), nil)
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			out.Set(i, j, m.GetDoubleAt(i, j))
		}
	}
	return out
}
