package types

import (
	"image"
	"time"
)

// Landmark is a single face-mesh point. X and Y are normalized to the frame
// width and height, Z is relative depth on roughly the same scale as X.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Face is one detected face with its mesh landmarks.
type Face struct {
	Box       image.Rectangle
	Score     float64
	Landmarks []Landmark
}

// Pose holds head rotation angles (scaled degrees) and the nose anchor used for drawing.
type Pose struct {
	Pitch float64 // rotation around X, positive looks up
	Yaw   float64 // rotation around Y, positive looks right
	Roll  float64 // rotation around Z
	Nose  Point2  // nose tip in image pixels
}

// Direction is the coarse gaze label derived from a Pose.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionLeft    Direction = "looking left"
	DirectionRight   Direction = "looking right"
	DirectionUp      Direction = "looking up"
	DirectionDown    Direction = "looking down"
	// DirectionNone marks frames where no usable face was found.
	DirectionNone Direction = ""
)

// FrameResult is everything the pipeline learned about one frame.
type FrameResult struct {
	Index     int
	VideoTime time.Time
	Offset    time.Duration // position in the stream, for sources without a wall clock
	Face      *Face
	Pose      Pose
	HasPose   bool
	Direction Direction
	Elapsed   time.Duration // processing time for this frame
}

// Point2 is a 2D point in image pixels.
type Point2 struct {
	X, Y float64
}

// Point3 is a 3D point; X and Y in image pixels, Z in landmark depth units.
type Point3 struct {
	X, Y, Z float64
}

// Sample is the persisted form of a frame that produced a pose.
type Sample struct {
	FrameIndex int
	Offset     float64 // seconds from the start of the stream
	VideoTime  time.Time
	Pitch      float64
	Yaw        float64
	Roll       float64
	Direction  Direction
}

// SampleFrom converts a frame result into a Sample.
func SampleFrom(res FrameResult) Sample {
	return Sample{
		FrameIndex: res.Index,
		Offset:     res.Offset.Seconds(),
		VideoTime:  res.VideoTime,
		Pitch:      res.Pose.Pitch,
		Yaw:        res.Pose.Yaw,
		Roll:       res.Pose.Roll,
		Direction:  res.Direction,
	}
}
