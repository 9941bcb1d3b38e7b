package sim

import (
	"math"
	"time"

	"vision-nav/internal/rangefinder"
)

// Ranger reports the vehicle altitude as a downward range, with sensor i
// mounted i*SpacingM above the first.
type Ranger struct {
	Vehicle  Vehicle
	Index    int
	SpacingM float64
	Now      func() time.Time
}

func (r *Ranger) ReadMillimeters() (uint16, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	m := r.Vehicle.StateAt(now()).Position.Z - float64(r.Index)*r.SpacingM
	mm := math.Round(m * 1000)
	if mm < 0 {
		mm = 0
	}
	if mm > math.MaxUint16 {
		mm = math.MaxUint16
	}
	return uint16(mm), nil
}

func (r *Ranger) Close() error { return nil }

// RangerOpener opens simulated sensors for the rangefinder service.
func RangerOpener(v Vehicle, spacingM float64) rangefinder.Opener {
	return func(i int) (rangefinder.Ranger, error) {
		return &Ranger{Vehicle: v, Index: i, SpacingM: spacingM}, nil
	}
}
