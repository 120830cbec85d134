package landmark

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/andresmejia3/headpose/internal/types"
	"github.com/andresmejia3/headpose/internal/utils" // Using the SafeCommand wrapper
	"gocv.io/x/gocv"
)

// maxLandmarks bounds a single face in a worker reply so a corrupt length cannot allocate gigabytes.
const maxLandmarks = 4096

// maxReplySize bounds a whole reply body read from the data pipe.
const maxReplySize = 64 << 20

// minFaceSize is the smallest encoded face: score plus landmark count.
const minFaceSize = 8

// Worker delegates detection to an external process.
// Frames go out as [uint32 BE length][JPEG] on stdin, replies come back on FD 3.
type Worker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewWorker starts name with args and wires up the data pipe.
func NewWorker(ctx context.Context, name string, args ...string) (*Worker, error) {
	proc := utils.NewSafeCommand(ctx, name, args...)

	// Create a side-channel pipe (FD 3) so worker logging on stdout cannot corrupt replies
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("landmark worker failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Worker{Cmd: proc, Stdin: stdin, DataPipe: r}, nil
}

// Detect encodes frame as JPEG and asks the worker for its faces.
func (w *Worker) Detect(frame gocv.Mat) ([]types.Face, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	faces, err := w.ProcessFrame(buf.GetBytes())
	if err != nil {
		return nil, err
	}
	for i := range faces {
		faces[i].Box = boundingBox(faces[i].Landmarks, frame.Cols(), frame.Rows())
	}
	return faces, nil
}

// ProcessFrame sends one encoded image and decodes the reply.
func (w *Worker) ProcessFrame(data []byte) ([]types.Face, error) {
	resp, err := w.communicate(data)
	if err != nil {
		return nil, err
	}
	return decodeFaces(resp)
}

func (w *Worker) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, fmt.Errorf("landmark worker closed the data pipe: %w", err)
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxReplySize {
		return nil, fmt.Errorf("landmark worker reply of %d bytes exceeds %d", respLen, maxReplySize)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// decodeFaces parses a reply body.
// OK:    [0][uint32 faces] then per face [float32 score][uint32 n][n x (x, y, z) float32]
// Error: [1][uint32 len][message]
func decodeFaces(body []byte) ([]types.Face, error) {
	r := bytes.NewReader(body)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker reply")
	}

	if status != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("landmark worker error (unreadable message)")
		}
		if int64(msgLen) > int64(r.Len()) {
			return nil, fmt.Errorf("landmark worker error (truncated message)")
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("landmark worker error (truncated message)")
		}
		return nil, fmt.Errorf("landmark worker error: %s", msg)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}

	if int64(count)*minFaceSize > int64(r.Len()) {
		return nil, fmt.Errorf("reply claims %d faces in %d bytes", count, r.Len())
	}
	faces := make([]types.Face, 0, count)
	for i := uint32(0); i < count; i++ {
		var score float32
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &score); err != nil {
			return nil, fmt.Errorf("read face %d score: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("read face %d landmark count: %w", i, err)
		}
		if n > maxLandmarks {
			return nil, fmt.Errorf("face %d claims %d landmarks", i, n)
		}
		raw := make([]float32, 3*n)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("read face %d landmarks: %w", i, err)
		}
		lms := make([]types.Landmark, n)
		for j := range lms {
			lms[j] = types.Landmark{X: float64(raw[3*j]), Y: float64(raw[3*j+1]), Z: float64(raw[3*j+2])}
		}
		faces = append(faces, types.Face{Score: float64(score), Landmarks: lms})
	}
	return faces, nil
}

// boundingBox is the pixel rectangle spanning every landmark.
func boundingBox(lms []types.Landmark, width, height int) image.Rectangle {
	if len(lms) == 0 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, lm := range lms {
		minX, maxX = math.Min(minX, lm.X), math.Max(maxX, lm.X)
		minY, maxY = math.Min(minY, lm.Y), math.Max(maxY, lm.Y)
	}
	w, h := float64(width), float64(height)
	return image.Rect(int(minX*w), int(minY*h), int(maxX*w), int(maxY*h)).
		Intersect(image.Rect(0, 0, width, height))
}

// Close shuts the pipes and waits for the worker to exit.
func (w *Worker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	if err := w.Cmd.Wait(); err != nil {
		return fmt.Errorf("landmark worker exited: %w", err)
	}
	return nil
}
