package rangefinder

import "time"

const (
	FrameID = "base_range"
	MinM    = 0.2
	MaxM    = 14.0
)

// Reading is one published distance measurement.
type Reading struct {
	Stamp   time.Time `json:"stamp"`
	ID      int       `json:"id"`
	FrameID string    `json:"frame_id"`
	RangeM  float64   `json:"range_m"`
	MinM    float64   `json:"min_m"`
	MaxM    float64   `json:"max_m"`
}

// Sink receives every reading. Implementations must not block for long;
// they run on the polling goroutine.
type Sink interface {
	PublishRange(r Reading) error
}
