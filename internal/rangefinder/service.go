// Package rangefinder polls a set of distance sensors at a fixed interval
// and fans each reading out to the configured sinks.
package rangefinder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vision-nav/internal/i2c"
	"vision-nav/internal/monitoring"
	"vision-nav/internal/sensors/teraranger"
)

const DefaultInterval = time.Second

// Ranger is one distance sensor.
type Ranger interface {
	ReadMillimeters() (uint16, error)
	Close() error
}

// Opener opens sensor i (0-based).
type Opener func(i int) (Ranger, error)

type Config struct {
	Count    int
	Interval time.Duration
	// Stagger is slept between consecutive sensors within one poll.
	Stagger time.Duration
}

type Snapshot struct {
	Sensors   int       `json:"sensors"`
	Polls     uint64    `json:"polls"`
	Readings  uint64    `json:"readings"`
	Errors    uint64    `json:"errors"`
	Last      []Reading `json:"last,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service struct {
	cfg   Config
	open  Opener
	sinks []Sink
	now   func() time.Time

	// Poll-loop owned.
	sensors []Ranger
	inited  bool
	errs    map[int]string

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config, open Opener, sinks ...Sink) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Stagger < 0 {
		cfg.Stagger = 0
	}
	return &Service{
		cfg:   cfg,
		open:  open,
		sinks: sinks,
		now:   func() time.Time { return time.Now().UTC() },
		errs:  make(map[int]string),
	}
}

// I2COpener opens TeraRanger One sensors at base+i on bus.
func I2COpener(bus *i2c.Bus, base uint16) Opener {
	return func(i int) (Ranger, error) {
		return teraranger.New(bus.Dev(base + uint16(i)))
	}
}

// SerialOpener opens one UART sensor per path.
func SerialOpener(paths []string, baud int) Opener {
	return func(i int) (Ranger, error) {
		if i >= len(paths) {
			return nil, fmt.Errorf("rangefinder: no serial path for sensor %d", i)
		}
		return teraranger.OpenSerial(paths[i], baud)
	}
}

// Init opens every sensor. Any failure closes what was opened, logs, and
// leaves the service polling an empty list.
func (s *Service) Init() int {
	if s == nil {
		return 0
	}
	s.inited = true
	if s.open == nil || s.cfg.Count <= 0 {
		monitoring.Logf("rangefinder: no sensors configured")
		return 0
	}
	opened := make([]Ranger, 0, s.cfg.Count)
	for i := 0; i < s.cfg.Count; i++ {
		r, err := s.open(i)
		if err != nil {
			monitoring.Logf("rangefinder: error initializing sensor %d: %v (continuing without rangefinders)", i, err)
			for _, o := range opened {
				_ = o.Close()
			}
			s.sensors = nil
			s.setError(err)
			return 0
		}
		opened = append(opened, r)
	}
	s.sensors = opened
	monitoring.Logf("rangefinder: %d sensors ready interval=%s", len(opened), s.cfg.Interval)

	s.mu.Lock()
	s.snap.Sensors = len(opened)
	s.mu.Unlock()
	return len(opened)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Last = append([]Reading(nil), s.snap.Last...)
	return snap
}

// Run polls until ctx is cancelled, then closes the sensors.
func (s *Service) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("rangefinder: service is nil")
	}
	if !s.inited {
		s.Init()
	}
	defer s.closeAll()

	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			s.Poll(ctx)
		}
	}
}

// Poll reads every sensor once and publishes valid readings.
func (s *Service) Poll(ctx context.Context) {
	var readings, errCount uint64
	for i, r := range s.sensors {
		if i > 0 && s.cfg.Stagger > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.Stagger):
			}
		}
		mm, err := r.ReadMillimeters()
		if err != nil {
			errCount++
			s.reportRead(i, err)
			continue
		}
		s.reportRead(i, nil)
		rd := Reading{
			Stamp:   s.now(),
			ID:      i,
			FrameID: FrameID,
			RangeM:  float64(mm) / 1000,
			MinM:    MinM,
			MaxM:    MaxM,
		}
		readings++
		s.publish(rd)
	}

	s.mu.Lock()
	s.snap.Polls++
	s.snap.Readings += readings
	s.snap.Errors += errCount
	s.snap.UpdatedAt = s.now()
	s.mu.Unlock()
}

func (s *Service) publish(rd Reading) {
	for _, sink := range s.sinks {
		if sink == nil {
			continue
		}
		if err := sink.PublishRange(rd); err != nil {
			s.setError(err)
		}
	}

	s.mu.Lock()
	for len(s.snap.Last) <= rd.ID {
		s.snap.Last = append(s.snap.Last, Reading{})
	}
	s.snap.Last[rd.ID] = rd
	s.mu.Unlock()
}

// reportRead logs read failures once per distinct error per sensor.
func (s *Service) reportRead(i int, err error) {
	prev, had := s.errs[i]
	if err == nil {
		if had {
			monitoring.Logf("rangefinder: sensor %d recovered", i)
			delete(s.errs, i)
		}
		return
	}
	if !had || prev != err.Error() {
		monitoring.Logf("rangefinder: sensor %d: %v", i, err)
	}
	s.errs[i] = err.Error()
	s.setError(err)
}

func (s *Service) setError(err error) {
	s.mu.Lock()
	s.snap.LastError = err.Error()
	s.mu.Unlock()
}

func (s *Service) closeAll() {
	for i, r := range s.sensors {
		if err := r.Close(); err != nil {
			monitoring.Logf("rangefinder: close sensor %d: %v", i, err)
		}
	}
	s.sensors = nil
}
