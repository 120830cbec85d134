// Package config resolves run settings from flags, the environment and an
// optional thresholds file, and validates the result.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/headpose/internal/landmark"
	"github.com/andresmejia3/headpose/internal/pose"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// MaxThresholdsFileSize caps the thresholds file.
const MaxThresholdsFileSize = 1 << 20

// Environment variables read by FromEnv.
const (
	EnvDetectorModel = "HEADPOSE_DETECTOR_MODEL"
	EnvMeshModel     = "HEADPOSE_MESH_MODEL"
	EnvWorkerCmd     = "HEADPOSE_WORKER_CMD"
	EnvLandmarker    = "HEADPOSE_LANDMARKER"
	EnvAngleScale    = "HEADPOSE_ANGLE_SCALE"
)

// Config is everything a run needs.
type Config struct {
	Input         string          `validate:"required"`
	Landmarker    string          `validate:"oneof=mesh worker"`
	DetectorModel string          `validate:"required_if=Landmarker mesh"`
	MeshModel     string          `validate:"required_if=Landmarker mesh"`
	WorkerCmd     string          `validate:"required_if=Landmarker worker"`
	MinConfidence float64         `validate:"gt=0,lte=1"`
	AngleScale    float64         `validate:"gt=0"`
	Thresholds    pose.Thresholds
	Mirror        bool
	DrawMesh      bool
	ShowFPS       bool
	Grace         time.Duration `validate:"gte=0"`
	MinInterval   time.Duration `validate:"gte=0"`
	Output        string
	Record        bool
}

// Default returns the stock configuration.
func Default() Config {
	mesh := landmark.DefaultMeshConfig()
	return Config{
		Landmarker:    landmark.BackendMesh,
		DetectorModel: mesh.DetectorModel,
		MeshModel:     mesh.MeshModel,
		MinConfidence: mesh.MinConfidence,
		AngleScale:    pose.DefaultAngleScale,
		Thresholds:    pose.DefaultThresholds(),
		Mirror:        true,
		DrawMesh:      true,
		Grace:         time.Second,
		MinInterval:   100 * time.Millisecond,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and the threshold ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return c.Thresholds.Validate()
}

// LandmarkConfig is the landmark backend selection.
func (c Config) LandmarkConfig() landmark.Config {
	return landmark.Config{
		Backend:       c.Landmarker,
		DetectorModel: c.DetectorModel,
		MeshModel:     c.MeshModel,
		MinConfidence: c.MinConfidence,
		WorkerCmd:     strings.Fields(c.WorkerCmd),
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error. Existing variables win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// FromEnv overlays HEADPOSE_* variables onto c.
func (c *Config) FromEnv() error {
	if v := os.Getenv(EnvLandmarker); v != "" {
		c.Landmarker = v
	}
	if v := os.Getenv(EnvDetectorModel); v != "" {
		c.DetectorModel = v
	}
	if v := os.Getenv(EnvMeshModel); v != "" {
		c.MeshModel = v
	}
	if v := os.Getenv(EnvWorkerCmd); v != "" {
		c.WorkerCmd = v
	}
	if v := os.Getenv(EnvAngleScale); v != "" {
		scale, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAngleScale, err)
		}
		c.AngleScale = scale
	}
	return nil
}

// LoadThresholds reads a JSON thresholds file over base. Keys missing from the
// file keep their base value. Unknown keys are rejected.
func LoadThresholds(path string, base pose.Thresholds) (pose.Thresholds, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".json" {
		return base, fmt.Errorf("thresholds file must be .json, got %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return base, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxThresholdsFileSize+1))
	if err != nil {
		return base, err
	}
	if len(data) > MaxThresholdsFileSize {
		return base, fmt.Errorf("thresholds file %s is larger than %d bytes", path, MaxThresholdsFileSize)
	}

	t := base
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return base, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
