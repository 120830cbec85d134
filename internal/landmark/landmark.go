// Package landmark finds faces in a frame and returns their face-mesh landmarks.
// Detection itself is delegated to a YuNet + face-mesh network pair or to an
// external worker process.
package landmark

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/andresmejia3/headpose/internal/types"
	"gocv.io/x/gocv"
)

// MeshPoints is the number of landmarks in the face-mesh topology.
const MeshPoints = 468

// Backend names accepted by New.
const (
	BackendMesh   = "mesh"
	BackendWorker = "worker"
)

// ErrEmptyFrame is returned when Detect is given an empty Mat.
var ErrEmptyFrame = errors.New("empty frame")

// Landmarker detects faces and their landmarks in a BGR frame.
type Landmarker interface {
	Detect(frame gocv.Mat) ([]types.Face, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend       string
	DetectorModel string
	MeshModel     string
	MinConfidence float64
	WorkerCmd     []string
}

// New builds the Landmarker named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Landmarker, error) {
	switch cfg.Backend {
	case "", BackendMesh:
		mc := DefaultMeshConfig()
		if cfg.DetectorModel != "" {
			mc.DetectorModel = cfg.DetectorModel
		}
		if cfg.MeshModel != "" {
			mc.MeshModel = cfg.MeshModel
		}
		if cfg.MinConfidence > 0 {
			mc.MinConfidence = cfg.MinConfidence
		}
		return NewMeshLandmarker(mc)
	case BackendWorker:
		if len(cfg.WorkerCmd) == 0 {
			return nil, fmt.Errorf("worker backend needs a command")
		}
		return NewWorker(ctx, cfg.WorkerCmd[0], cfg.WorkerCmd[1:]...)
	default:
		return nil, fmt.Errorf("unknown landmarker backend %q", cfg.Backend)
	}
}

// Primary returns the highest scoring face, or nil when there is none.
func Primary(faces []types.Face) *types.Face {
	if len(faces) == 0 {
		return nil
	}
	sorted := make([]types.Face, len(faces))
	copy(sorted, faces)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	return &sorted[0]
}
