package landmark

import (
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/headpose/internal/types"
	"gocv.io/x/gocv"
)

// MeshInputSize is the square input edge of the face-mesh network.
const MeshInputSize = 192

// MeshConfig holds the model paths and detection cut-off for the mesh backend.
type MeshConfig struct {
	DetectorModel string
	MeshModel     string
	MinConfidence float64
	CropPadding   float64 // extra margin around the detector box, as a fraction of its size
}

// DefaultMeshConfig returns the stock model locations.
func DefaultMeshConfig() MeshConfig {
	return MeshConfig{
		DetectorModel: "models/face_detection_yunet_2023mar.onnx",
		MeshModel:     "models/face_mesh.onnx",
		MinConfidence: 0.5,
		CropPadding:   0.25,
	}
}

// MeshLandmarker runs YuNet for the face box and a face-mesh network on the crop.
type MeshLandmarker struct {
	cfg      MeshConfig
	detector gocv.FaceDetectorYN
	net      gocv.Net
}

// NewMeshLandmarker loads both networks.
func NewMeshLandmarker(cfg MeshConfig) (*MeshLandmarker, error) {
	for _, p := range []string{cfg.DetectorModel, cfg.MeshModel} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("model file not found: %s: %w", p, err)
		}
	}

	net := gocv.ReadNetFromONNX(cfg.MeshModel)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load face mesh model %s", cfg.MeshModel)
	}

	detector := gocv.NewFaceDetectorYN(cfg.DetectorModel, "", image.Pt(320, 320))
	detector.SetScoreThreshold(float32(cfg.MinConfidence))

	return &MeshLandmarker{cfg: cfg, detector: detector, net: net}, nil
}

// Detect returns every face YuNet accepts, each with a full 468-point mesh.
func (m *MeshLandmarker) Detect(frame gocv.Mat) ([]types.Face, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())

	m.detector.SetInputSize(bounds.Size())
	rows := gocv.NewMat()
	defer rows.Close()
	m.detector.Detect(frame, &rows)

	var faces []types.Face
	for r := 0; r < rows.Rows(); r++ {
		// YuNet rows: x, y, w, h, five landmark pairs, score.
		score := float64(rows.GetFloatAt(r, 14))
		if score < m.cfg.MinConfidence {
			continue
		}
		x, y := int(rows.GetFloatAt(r, 0)), int(rows.GetFloatAt(r, 1))
		w, h := int(rows.GetFloatAt(r, 2)), int(rows.GetFloatAt(r, 3))
		box := image.Rect(x, y, x+w, y+h).Intersect(bounds)
		if box.Empty() {
			continue
		}

		crop := squareCrop(box, m.cfg.CropPadding, bounds)
		if crop.Empty() {
			continue
		}
		out, err := m.infer(frame, crop)
		if err != nil {
			return nil, err
		}
		faces = append(faces, types.Face{
			Box:       box,
			Score:     score,
			Landmarks: meshToFrame(out, crop, bounds.Dx(), bounds.Dy()),
		})
	}
	return faces, nil
}

func (m *MeshLandmarker) infer(frame gocv.Mat, crop image.Rectangle) ([]float32, error) {
	region := frame.Region(crop)
	defer region.Close()

	blob := gocv.BlobFromImage(region, 1.0/255.0, image.Pt(MeshInputSize, MeshInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read face mesh output: %w", err)
	}
	if len(data) < MeshPoints*3 {
		return nil, fmt.Errorf("face mesh output has %d values, want %d", len(data), MeshPoints*3)
	}
	// The output aliases the Mat memory, copy before it is closed.
	vals := make([]float32, MeshPoints*3)
	copy(vals, data)
	return vals, nil
}

// Close releases both networks.
func (m *MeshLandmarker) Close() error {
	m.detector.Close()
	return m.net.Close()
}

// squareCrop grows box to a square padded by pad on every side, clipped to bounds.
func squareCrop(box image.Rectangle, pad float64, bounds image.Rectangle) image.Rectangle {
	side := box.Dx()
	if box.Dy() > side {
		side = box.Dy()
	}
	side = int(float64(side) * (1 + 2*pad))
	c := image.Pt((box.Min.X+box.Max.X)/2, (box.Min.Y+box.Max.Y)/2)
	sq := image.Rect(c.X-side/2, c.Y-side/2, c.X-side/2+side, c.Y-side/2+side)
	return sq.Intersect(bounds)
}

// meshToFrame maps network outputs in MeshInputSize crop pixels back to
// coordinates normalized against the full frame.
func meshToFrame(out []float32, crop image.Rectangle, width, height int) []types.Landmark {
	sx := float64(crop.Dx()) / MeshInputSize
	sy := float64(crop.Dy()) / MeshInputSize
	w, h := float64(width), float64(height)

	lms := make([]types.Landmark, len(out)/3)
	for i := range lms {
		px := float64(out[3*i])*sx + float64(crop.Min.X)
		py := float64(out[3*i+1])*sy + float64(crop.Min.Y)
		lms[i] = types.Landmark{
			X: px / w,
			Y: py / h,
			Z: float64(out[3*i+2]) * sx / w,
		}
	}
	return lms
}
