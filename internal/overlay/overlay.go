// Package overlay draws pose annotations onto frames in place.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/andresmejia3/headpose/internal/landmark"
	"github.com/andresmejia3/headpose/internal/types"
	"gocv.io/x/gocv"
)

// gocv reads color.RGBA channels as B, G, R, A.
var (
	lineColor  = color.RGBA{0, 0, 255, 0}
	labelColor = color.RGBA{0, 255, 0, 0}
	angleColor = color.RGBA{255, 0, 0, 0}
	meshColor  = color.RGBA{224, 224, 224, 0}
)

// Fixed text anchors.
var (
	DirectionOrigin = image.Pt(20, 50)
	AngleOrigins    = [3]image.Point{image.Pt(500, 50), image.Pt(500, 100), image.Pt(500, 150)}
	TimeOrigin      = image.Pt(20, 450)
	FPSOrigin       = image.Pt(500, 200)
)

// NoseLineLength scales yaw and pitch into the nose line's pixel offset.
const NoseLineLength = 10

// timeThickness is the stroke width of the time label.
const timeThickness = 1

// Renderer draws one FrameResult onto its frame.
type Renderer struct {
	DrawMesh bool
	ShowFPS  bool
}

// Render annotates frame with res. Frames without a pose only get the time label.
func (r *Renderer) Render(frame *gocv.Mat, res types.FrameResult) {
	if r.DrawMesh && res.Face != nil {
		drawMesh(frame, res.Face.Landmarks)
	}

	if res.HasPose {
		p1, p2 := NoseLine(res.Pose)
		gocv.Line(frame, p1, p2, lineColor, 3)

		gocv.PutText(frame, string(res.Direction), DirectionOrigin, gocv.FontHersheyComplex, 2, labelColor, 2)
		for i, text := range AngleLabels(res.Pose) {
			gocv.PutText(frame, text, AngleOrigins[i], gocv.FontHersheySimplex, 1, angleColor, 2)
		}
	}

	gocv.PutText(frame, TimeLabel(res), TimeOrigin, gocv.FontHersheySimplex, 1.5, labelColor, timeThickness)

	if r.ShowFPS && res.Elapsed > 0 {
		fps := float64(time.Second) / float64(res.Elapsed)
		gocv.PutText(frame, fmt.Sprintf("%.1f fps", fps), FPSOrigin, gocv.FontHersheySimplex, 0.7, labelColor, 1)
	}
}

// NoseLine returns the endpoints of the line projected from the nose tip
// in the direction of the head.
func NoseLine(p types.Pose) (image.Point, image.Point) {
	from := image.Pt(int(p.Nose.X), int(p.Nose.Y))
	to := image.Pt(int(p.Nose.X+p.Yaw*NoseLineLength), int(p.Nose.Y-p.Pitch*NoseLineLength))
	return from, to
}

// AngleLabels formats pitch, yaw and roll for display.
func AngleLabels(p types.Pose) [3]string {
	return [3]string{
		fmt.Sprintf("x: %.2f", p.Pitch),
		fmt.Sprintf("y: %.2f", p.Yaw),
		fmt.Sprintf("z: %.2f", p.Roll),
	}
}

// TimeLabel is the wall-clock time of the frame, or its stream offset when the
// recording start is unknown.
func TimeLabel(res types.FrameResult) string {
	if !res.VideoTime.IsZero() {
		return res.VideoTime.Format(time.DateTime)
	}
	d := res.Offset.Round(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func drawMesh(frame *gocv.Mat, lms []types.Landmark) {
	if len(lms) < landmark.MeshPoints {
		return
	}
	w, h := frame.Cols(), frame.Rows()
	for _, path := range landmark.ContourPaths {
		for i := 1; i < len(path); i++ {
			gocv.Line(frame, pixel(lms[path[i-1]], w, h), pixel(lms[path[i]], w, h), meshColor, 1)
		}
	}
	for _, lm := range lms {
		gocv.Circle(frame, pixel(lm, w, h), 1, meshColor, 1)
	}
}

func pixel(lm types.Landmark, w, h int) image.Point {
	return image.Pt(int(lm.X*float64(w)), int(lm.Y*float64(h)))
}
