package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps worker logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 HEADPOSE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit(1).
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Video Probing ---

// ProbeResult is what ffprobe knows about the first video stream.
type ProbeResult struct {
	FPS    float64
	Frames int
}

type ffprobeOutput struct {
	Streams []struct {
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// ProbeVideo asks ffprobe for the frame rate and frame count of path.
// It is the fallback for containers where the capture backend reports zeros.
func ProbeVideo(ctx context.Context, path string) (ProbeResult, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe not found: %w", err)
	}

	// 1. Fast Path: Container Metadata
	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate,avg_frame_rate,nb_frames", "-of", "json", path).Output()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	res, err := parseProbe(out)
	if err != nil {
		return ProbeResult{}, err
	}
	if res.Frames > 0 {
		return res, nil
	}

	// 2. Slow Path: Count Packets
	out, err = exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path).Output()
	if err != nil {
		return res, nil
	}
	if counted, err := parseProbe(out); err == nil {
		res.Frames = counted.Frames
	}
	return res, nil
}

func parseProbe(out []byte) (ProbeResult, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(probe.Streams) == 0 {
		return ProbeResult{}, fmt.Errorf("ffprobe found no video stream")
	}
	s := probe.Streams[0]

	var res ProbeResult
	if fps, err := ParseFrameRate(s.AvgFrameRate); err == nil && fps > 0 {
		res.FPS = fps
	} else if fps, err := ParseFrameRate(s.RFrameRate); err == nil {
		res.FPS = fps
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		res.Frames = n
	} else if n, err := strconv.Atoi(s.NbReadPackets); err == nil {
		res.Frames = n
	}
	return res, nil
}

// ParseFrameRate parses ffprobe rates such as "30000/1001" or "25".
func ParseFrameRate(rate string) (float64, error) {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q: zero denominator", rate)
	}
	return n / d, nil
}

// GenerateVideoID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
