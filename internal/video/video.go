// Package video opens capture sources and derives the wall-clock time of each frame.
package video

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/headpose/internal/logging"
	"github.com/andresmejia3/headpose/internal/utils"
	"gocv.io/x/gocv"
)

// StartTimeLayout is the file-name prefix layout recordings are named with, e.g. 20240131_084500.mp4.
const StartTimeLayout = "20060102_150405"

// DefaultFPS is used when neither the container nor ffprobe report a frame rate.
const DefaultFPS = 30.0

// ErrNotOpened is returned when the capture backend cannot open a source.
var ErrNotOpened = errors.New("video source could not be opened")

// Info describes an opened source.
type Info struct {
	Path       string
	FPS        float64
	FrameCount int // -1 when unknown
	Width      int
	Height     int
	StartTime  time.Time
	Live       bool
}

// Source is an opened capture stream.
type Source struct {
	capture *gocv.VideoCapture
	info    Info
}

// Open opens path as a file, or as a camera device when path is a bare integer
// that does not name an existing file.
func Open(ctx context.Context, path string) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("no video source given")
	}

	var (
		capture *gocv.VideoCapture
		err     error
		live    bool
	)
	if _, statErr := os.Stat(path); statErr != nil {
		id, convErr := strconv.Atoi(path)
		if convErr != nil {
			return nil, fmt.Errorf("video file does not exist: %s", path)
		}
		capture, err = gocv.VideoCaptureDevice(id)
		live = true
	} else {
		capture, err = gocv.VideoCaptureFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotOpened, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotOpened, path)
	}

	info := Info{
		Path:       path,
		FPS:        capture.Get(gocv.VideoCaptureFPS),
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
		Live:       live,
	}
	if live {
		info.StartTime = time.Now()
		info.FrameCount = -1
	} else {
		info.StartTime = ParseStartTime(path)
		if info.FPS <= 0 || info.FrameCount <= 0 {
			if probe, err := utils.ProbeVideo(ctx, path); err == nil {
				if info.FPS <= 0 {
					info.FPS = probe.FPS
				}
				if info.FrameCount <= 0 {
					info.FrameCount = probe.Frames
				}
			} else {
				logging.Debug(logging.Fields{"path": path, "error": err}, "ffprobe fallback failed")
			}
		}
	}
	if info.FPS <= 0 || math.IsNaN(info.FPS) {
		logging.Warn(logging.Fields{"path": path, "fps": DefaultFPS}, "frame rate unknown, assuming default")
		info.FPS = DefaultFPS
	}
	if info.FrameCount <= 0 {
		info.FrameCount = -1
	}

	return &Source{capture: capture, info: info}, nil
}

// Info returns the source properties.
func (s *Source) Info() Info { return s.info }

// Read grabs the next frame into dst. It returns false at end-of-stream.
func (s *Source) Read(dst *gocv.Mat) bool {
	if s.capture == nil {
		return false
	}
	if ok := s.capture.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// Close releases the capture handle. It is safe to call more than once.
func (s *Source) Close() error {
	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	return err
}

// ParseStartTime reads the recording start from a file name like
// /videos/20240131_084500.mp4. Names that do not match yield the zero time.
func ParseStartTime(path string) time.Time {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if len(base) < len(StartTimeLayout) {
		return time.Time{}
	}
	t, err := time.ParseInLocation(StartTimeLayout, base[:len(StartTimeLayout)], time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Offset is the stream position of frame index (1-based), rounded half to even to whole seconds.
func (i Info) Offset(index int) time.Duration {
	if i.FPS <= 0 {
		return 0
	}
	return time.Duration(math.RoundToEven(float64(index)/i.FPS)) * time.Second
}

// VideoTime is the wall-clock time of frame index, or the zero time when the
// start of the recording is unknown.
func (i Info) VideoTime(index int) time.Time {
	if i.StartTime.IsZero() {
		return time.Time{}
	}
	return i.StartTime.Add(i.Offset(index))
}

// Duration is the length of the stream, or zero when the frame count is unknown.
func (i Info) Duration() time.Duration {
	if i.FrameCount <= 0 || i.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(i.FrameCount) / i.FPS * float64(time.Second))
}
