package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/headpose/internal/config"
	"github.com/andresmejia3/headpose/internal/landmark"
	"github.com/andresmejia3/headpose/internal/logging"
	"github.com/andresmejia3/headpose/internal/overlay"
	"github.com/andresmejia3/headpose/internal/pipeline"
	"github.com/andresmejia3/headpose/internal/pose"
	"github.com/andresmejia3/headpose/internal/store"
	"github.com/andresmejia3/headpose/internal/timeline"
	"github.com/andresmejia3/headpose/internal/utils"
	"github.com/andresmejia3/headpose/internal/video"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Options holds the flag values shared by watch and scan.
type Options struct {
	InputPath     string
	Landmarker    string
	DetectorModel string
	MeshModel     string
	WorkerCmd     string
	MinConfidence float64
	AngleScale    float64
	YawMin        float64
	YawMax        float64
	PitchMin      float64
	PitchMax      float64
	ConfigFile    string
	Mirror        bool
	DrawMesh      bool
	ShowFPS       bool
	GracePeriod   string
	BlipDuration  string
	OutputPath    string
	Record        bool
}

func addRunFlags(cmd *cobra.Command, opts *Options) {
	def := config.Default()
	f := cmd.Flags()
	f.StringVarP(&opts.InputPath, "input", "i", "", "Path to video, or a camera index such as 0")
	f.StringVar(&opts.Landmarker, "landmarker", def.Landmarker, "Landmark backend: mesh or worker")
	f.StringVar(&opts.DetectorModel, "detector-model", def.DetectorModel, "YuNet face detector ONNX model (mesh backend)")
	f.StringVar(&opts.MeshModel, "mesh-model", def.MeshModel, "Face mesh ONNX model (mesh backend)")
	f.StringVar(&opts.WorkerCmd, "worker-cmd", "", "Landmark worker command line (worker backend)")
	f.Float64Var(&opts.MinConfidence, "min-detection-confidence", def.MinConfidence, "Minimum face detection score")
	f.Float64Var(&opts.AngleScale, "angle-scale", def.AngleScale, "Multiplier applied to the decomposed angles")
	f.Float64Var(&opts.YawMin, "yaw-min", def.Thresholds.YawMin, "Yaw below this reads as looking left")
	f.Float64Var(&opts.YawMax, "yaw-max", def.Thresholds.YawMax, "Yaw above this reads as looking right")
	f.Float64Var(&opts.PitchMin, "pitch-min", def.Thresholds.PitchMin, "Pitch below this reads as looking down")
	f.Float64Var(&opts.PitchMax, "pitch-max", def.Thresholds.PitchMax, "Pitch above this reads as looking up")
	f.StringVarP(&opts.ConfigFile, "config", "c", "", "JSON thresholds file (flags override it)")
	f.BoolVar(&opts.Mirror, "mirror", def.Mirror, "Flip frames horizontally before detection")
	f.BoolVar(&opts.DrawMesh, "draw-mesh", def.DrawMesh, "Draw the face mesh contours")
	f.BoolVar(&opts.ShowFPS, "show-fps", def.ShowFPS, "Draw the processing frame rate")
	f.StringVarP(&opts.GracePeriod, "grace-period", "g", def.Grace.String(), "The longest period a face can be missing before the current direction interval is closed")
	f.StringVarP(&opts.BlipDuration, "blip-duration", "b", def.MinInterval.String(), "Minimum duration of a direction interval to be considered valid (filters blips)")
	f.StringVarP(&opts.OutputPath, "output", "o", "", "Write the annotated video to this path")
	cmd.MarkFlagRequired("input")
}

// resolveConfig layers defaults, HEADPOSE_* variables, the thresholds file and
// explicitly set flags, in that order.
func resolveConfig(cmd *cobra.Command, opts Options) (config.Config, error) {
	cfg := config.Default()
	if err := cfg.FromEnv(); err != nil {
		return cfg, err
	}
	if opts.ConfigFile != "" {
		t, err := config.LoadThresholds(opts.ConfigFile, cfg.Thresholds)
		if err != nil {
			return cfg, err
		}
		cfg.Thresholds = t
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("landmarker", func() { cfg.Landmarker = opts.Landmarker })
	set("detector-model", func() { cfg.DetectorModel = opts.DetectorModel })
	set("mesh-model", func() { cfg.MeshModel = opts.MeshModel })
	set("worker-cmd", func() { cfg.WorkerCmd = opts.WorkerCmd })
	set("min-detection-confidence", func() { cfg.MinConfidence = opts.MinConfidence })
	set("angle-scale", func() { cfg.AngleScale = opts.AngleScale })
	set("yaw-min", func() { cfg.Thresholds.YawMin = opts.YawMin })
	set("yaw-max", func() { cfg.Thresholds.YawMax = opts.YawMax })
	set("pitch-min", func() { cfg.Thresholds.PitchMin = opts.PitchMin })
	set("pitch-max", func() { cfg.Thresholds.PitchMax = opts.PitchMax })
	set("mirror", func() { cfg.Mirror = opts.Mirror })
	set("draw-mesh", func() { cfg.DrawMesh = opts.DrawMesh })
	set("show-fps", func() { cfg.ShowFPS = opts.ShowFPS })

	var err error
	if cfg.Grace, err = time.ParseDuration(opts.GracePeriod); err != nil {
		return cfg, fmt.Errorf("invalid grace-period format (use '2s', '500ms'): %w", err)
	}
	if cfg.MinInterval, err = time.ParseDuration(opts.BlipDuration); err != nil {
		return cfg, fmt.Errorf("invalid blip-duration format (use '100ms'): %w", err)
	}

	cfg.Input = opts.InputPath
	cfg.Output = opts.OutputPath
	cfg.Record = opts.Record

	if err := validateInput(cfg.Input); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// validateInput accepts an existing regular file or a camera index.
func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if _, convErr := strconv.Atoi(path); convErr == nil {
			return nil
		}
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", path)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path is a directory, expected a video file: %s", path)
	}
	return nil
}

// runResult is what a finished run hands back to the command for its summary.
type runResult struct {
	Info      video.Info
	Stats     pipeline.Stats
	Intervals []timeline.Interval
	SessionID uuid.UUID
	Samples   int // samples written to the session
}

type runMode int

const (
	modeWatch runMode = iota
	modeScan
)

// execute opens the source and landmarker, assembles the sinks for mode and runs the pipeline.
// An interrupted run still returns its partial result.
func execute(ctx context.Context, cfg config.Config, mode runMode) (runResult, error) {
	var res runResult

	src, err := video.Open(ctx, cfg.Input)
	if err != nil {
		return res, err
	}
	defer src.Close()
	res.Info = src.Info()
	logging.Info(logging.Fields{
		"input":  cfg.Input,
		"fps":    res.Info.FPS,
		"frames": res.Info.FrameCount,
		"size":   fmt.Sprintf("%dx%d", res.Info.Width, res.Info.Height),
	}, "video opened")

	lm, err := landmark.New(ctx, cfg.LandmarkConfig())
	if err != nil {
		return res, fmt.Errorf("failed to start landmarker: %w", err)
	}
	defer func() {
		if err := lm.Close(); err != nil {
			logging.Warn(logging.Fields{"error": err}, "landmarker did not shut down cleanly")
		}
	}()

	p := &pipeline.Pipeline{
		Landmarker: lm,
		Estimator:  pose.NewEstimator(cfg.AngleScale),
		Thresholds: cfg.Thresholds,
		Renderer:   &overlay.Renderer{DrawMesh: cfg.DrawMesh, ShowFPS: cfg.ShowFPS},
		Mirror:     cfg.Mirror,
	}

	// The timeline must close before the recorder reads its intervals.
	tl := pipeline.NewTimelineSink(timeline.NewAggregator(res.Info.FPS, cfg.Grace, cfg.MinInterval))
	sinks := []pipeline.Sink{tl}
	var recorder *pipeline.RecorderSink

	switch mode {
	case modeWatch:
		sinks = append(sinks, pipeline.NewWindowSink("headpose"))
	case modeScan:
		sinks = append(sinks, pipeline.NewProgressSink(res.Info.FrameCount, "🔍 Estimating head pose"))
	}

	if cfg.Output != "" {
		ws, err := pipeline.NewWriterSink(cfg.Output, res.Info.FPS, res.Info.Width, res.Info.Height)
		if err != nil {
			closeSinks(sinks)
			return res, err
		}
		sinks = append(sinks, ws)
	}

	if cfg.Record {
		id, err := startSession(ctx, DB, cfg, res.Info)
		if err != nil {
			closeSinks(sinks)
			return res, err
		}
		res.SessionID = id
		recorder = pipeline.NewRecorderSink(ctx, DB, id, tl)
		sinks = append(sinks, recorder)
	}

	res.Stats, err = p.Run(ctx, src, sinks...)
	res.Intervals = tl.Intervals()
	if recorder != nil {
		res.Samples = recorder.Written()
	}
	if errors.Is(err, context.Canceled) {
		logging.Warn(logging.Fields{"frames": res.Stats.Frames}, "run interrupted")
		return res, nil
	}
	if err != nil {
		logging.Error(logging.Fields{"input": cfg.Input, "frames": res.Stats.Frames, "error": err}, "run failed")
	}
	if w, ok := lm.(*landmark.Worker); ok && err != nil {
		return res, &workerFailure{err: err, proc: w.Cmd}
	}
	return res, err
}

// workerFailure carries the landmark worker process so its captured stderr can be shown.
type workerFailure struct {
	err  error
	proc *utils.SafeCommand
}

func (w *workerFailure) Error() string { return w.err.Error() }
func (w *workerFailure) Unwrap() error { return w.err }

// startSession registers the video (file sources only) and opens a recording session.
func startSession(ctx context.Context, db *store.Store, cfg config.Config, info video.Info) (uuid.UUID, error) {
	if db == nil {
		return uuid.Nil, ErrNoDatabase
	}

	var videoID string
	if !info.Live {
		id, err := utils.GenerateVideoID(cfg.Input)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to generate video ID: %w", err)
		}
		if err := db.EnsureVideoMetadata(ctx, id, cfg.Input); err != nil {
			return uuid.Nil, fmt.Errorf("failed to register video metadata: %w", err)
		}
		videoID = id
	}

	sessionID, err := db.CreateSession(ctx, store.Session{
		VideoID:    videoID,
		Source:     cfg.Input,
		StartedAt:  info.StartTime,
		FPS:        info.FPS,
		FrameCount: info.FrameCount,
		Thresholds: cfg.Thresholds,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create session: %w", err)
	}
	logging.Info(logging.Fields{"session": sessionID, "video_id": videoID}, "recording session")
	return sessionID, nil
}

func closeSinks(sinks []pipeline.Sink) {
	for _, s := range sinks {
		s.Close()
	}
}
