package pose

import (
	"fmt"

	"github.com/andresmejia3/headpose/internal/types"
)

// Thresholds bound the "forward" region in scaled degrees. Anything outside on
// the yaw axis wins over the pitch axis.
type Thresholds struct {
	YawMin   float64 `json:"yaw_min" validate:"ltfield=YawMax"`
	YawMax   float64 `json:"yaw_max"`
	PitchMin float64 `json:"pitch_min" validate:"ltfield=PitchMax"`
	PitchMax float64 `json:"pitch_max"`
}

// DefaultThresholds returns the bounds tuned for the default angle scale.
func DefaultThresholds() Thresholds {
	return Thresholds{
		YawMin:   -5,
		YawMax:   8,
		PitchMin: -7,
		PitchMax: 7,
	}
}

// Validate checks that both ranges are non-empty.
func (t Thresholds) Validate() error {
	if t.YawMin >= t.YawMax {
		return fmt.Errorf("yaw range is empty: min %.2f >= max %.2f", t.YawMin, t.YawMax)
	}
	if t.PitchMin >= t.PitchMax {
		return fmt.Errorf("pitch range is empty: min %.2f >= max %.2f", t.PitchMin, t.PitchMax)
	}
	return nil
}

// Classify maps a pose to a coarse direction. Yaw is checked before pitch, so a
// head turned left and tilted down reads as "looking left".
func Classify(p types.Pose, t Thresholds) types.Direction {
	switch {
	case p.Yaw < t.YawMin:
		return types.DirectionLeft
	case p.Yaw > t.YawMax:
		return types.DirectionRight
	case p.Pitch < t.PitchMin:
		return types.DirectionDown
	case p.Pitch > t.PitchMax:
		return types.DirectionUp
	default:
		return types.DirectionForward
	}
}
