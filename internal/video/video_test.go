package video

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStartTime(t *testing.T) {
	tests := []struct {
		path string
		want time.Time
	}{
		{"/videos/20240131_084500.mp4", time.Date(2024, 1, 31, 8, 45, 0, 0, time.Local)},
		{"20231224_235959.avi", time.Date(2023, 12, 24, 23, 59, 59, 0, time.Local)},
		{"20240131_084500_cam2.mkv", time.Date(2024, 1, 31, 8, 45, 0, 0, time.Local)},
		{"holiday.mp4", time.Time{}},
		{"2024-01-31.mp4", time.Time{}},
		{"20241341_250000.mp4", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := ParseStartTime(tt.path)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}

func TestVideoTime(t *testing.T) {
	start := time.Date(2024, 1, 31, 8, 45, 0, 0, time.UTC)
	info := Info{FPS: 30, StartTime: start}

	assert.Equal(t, start, info.VideoTime(0))
	assert.Equal(t, start, info.VideoTime(14))
	// Halves round to even: 0.5 -> 0, 1.5 -> 2, 2.5 -> 2.
	assert.Equal(t, start, info.VideoTime(15))
	assert.Equal(t, start.Add(time.Second), info.VideoTime(16))
	assert.Equal(t, start.Add(2*time.Second), info.VideoTime(45))
	assert.Equal(t, start.Add(2*time.Second), info.VideoTime(75))
	assert.Equal(t, start.Add(3*time.Second), info.VideoTime(76))
	assert.Equal(t, start.Add(10*time.Second), info.VideoTime(300))

	assert.Equal(t, 2*time.Second, info.Offset(60))
	assert.True(t, Info{FPS: 30}.VideoTime(90).IsZero())
	assert.Zero(t, Info{}.Offset(10))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, Info{FPS: 30, FrameCount: 900}.Duration())
	assert.Zero(t, Info{FPS: 30, FrameCount: -1}.Duration())
}

func TestOpenRejectsMissingFile(t *testing.T) {
	_, err := Open(context.Background(), "/definitely/not/here.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	_, err = Open(context.Background(), "")
	assert.Error(t, err)
}

func TestSourceCloseTwice(t *testing.T) {
	s := &Source{}
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
