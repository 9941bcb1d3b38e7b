// Package vision runs the fixed-rate publish cycle: transform lookup,
// homing, pose estimation and the hover relay/hold decision.
//
// All estimator state lives in a State value owned by the loop goroutine.
// Producers never touch it; they Submit samples into a bounded queue which
// the loop drains at the start of every cycle.
package vision

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vision-nav/internal/calib"
	"vision-nav/internal/frames"
	"vision-nav/internal/hover"
	"vision-nav/internal/imu"
	"vision-nav/internal/monitoring"
	"vision-nav/internal/pose"
	"vision-nav/internal/tf"
)

const (
	DefaultRate        = 50 * time.Millisecond // 20 Hz
	DefaultQueueSize   = 256
	DefaultRecordQueue = 256
)

type Config struct {
	Rate               time.Duration
	ParentFrame        string
	ChildFrame         string
	QueueSize          int
	RecordQueue        int
	CalibrationSamples int
	Hover              hover.Config
}

type TransformSource interface {
	Lookup(target, source string, at time.Time) (tf.Transform, error)
}

// SetpointPublisher is the flight-controller side of the cycle.
type SetpointPublisher interface {
	PublishVisionPose(p pose.Pose) error
	PublishPositionSetpoint(p pose.Pose) error
	PublishVelocitySetpoint(t pose.TwistStamped) error
}

// TelemetryPublisher receives the republished odometry and IMU streams.
type TelemetryPublisher interface {
	PublishOdometry(o pose.Odometry) error
	PublishIMU(s imu.Sample) error
}

type Recorder interface {
	RecordPose(kind string, p pose.Pose) error
	RecordTwist(kind string, t pose.TwistStamped) error
}

// Sinks are optional; nil members are skipped.
type Sinks struct {
	Setpoints SetpointPublisher
	Telemetry TelemetryPublisher
	Recorder  Recorder
	// OnMode is called from the loop whenever the hover mode changes.
	OnMode func(hover.Mode)
}

// State is the loop-owned estimator state.
type State struct {
	Track pose.Track

	// Yaw is the raw heading of the latest transform.
	Yaw float64

	Local    frames.Vec3
	Velocity frames.Vec3
	YawRate  float64

	Global       GlobalFix
	HasGlobalFix bool

	Bias      calib.Result
	YawOffset float64
}

type Snapshot struct {
	Calibrated         bool    `json:"calibrated"`
	CalibrationSamples int     `json:"calibration_samples"`
	CalibrationTarget  int     `json:"calibration_target"`
	YawOffsetRad       float64 `json:"yaw_offset_rad"`
	Homed              bool    `json:"homed"`

	Mode   string  `json:"mode"`
	HoverX float64 `json:"hover_x"`
	HoverY float64 `json:"hover_y"`

	TransformOK     bool   `json:"transform_ok"`
	TransformMisses uint64 `json:"transform_misses"`

	Cycles             uint64 `json:"cycles"`
	PosesPublished     uint64 `json:"poses_published"`
	HomingPublished    uint64 `json:"homing_published"`
	SetpointsPublished uint64 `json:"setpoints_published"`
	CommandsRelayed    uint64 `json:"commands_relayed"`
	OdometryPublished  uint64 `json:"odometry_published"`
	IMURepublished     uint64 `json:"imu_republished"`
	SamplesDropped     uint64 `json:"samples_dropped"`
	CommandsIgnored    uint64 `json:"commands_ignored"`
	PublishErrors      uint64 `json:"publish_errors"`
	RecordsDropped     uint64 `json:"records_dropped"`
	RecordErrors       uint64 `json:"record_errors"`

	HasGlobalFix bool       `json:"has_global_fix"`
	LastPose     *pose.Pose `json:"last_pose,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Service struct {
	cfg   Config
	tf    TransformSource
	sinks Sinks
	now   func() time.Time

	queue   chan any
	dropped atomic.Uint64

	records        chan record
	recordsDropped atomic.Uint64
	recordErrors   atomic.Uint64
	recordErr      string // writer-owned

	// Loop-owned.
	state       State
	cal         *calib.Calibrator
	est         pose.Estimator
	hover       *hover.Controller
	transformOK bool
	looked      bool
	counters    Snapshot
	lastPose    *pose.Pose
	pubErrs     map[string]string
	lastErr     string

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config, src TransformSource, sinks Sinks) *Service {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.ParentFrame == "" {
		cfg.ParentFrame = pose.OdomFrame
	}
	if cfg.ChildFrame == "" {
		cfg.ChildFrame = pose.BodyFrame
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RecordQueue <= 0 {
		cfg.RecordQueue = DefaultRecordQueue
	}
	s := &Service{
		cfg:     cfg,
		tf:      src,
		sinks:   sinks,
		now:     func() time.Time { return time.Now().UTC() },
		queue:   make(chan any, cfg.QueueSize),
		records: make(chan record, cfg.RecordQueue),
		cal:     calib.New(cfg.CalibrationSamples),
		hover:   hover.New(cfg.Hover),
		pubErrs: make(map[string]string),
	}
	s.snap.Mode = hover.Hold.String()
	s.snap.CalibrationTarget = s.cal.Target()
	return s
}

// Submit queues a sample for the next cycle. It never blocks; when the
// queue is full the sample is dropped and false is returned.
func (s *Service) Submit(sample any) bool {
	if s == nil {
		return false
	}
	now := s.now()
	switch v := sample.(type) {
	case imu.Sample:
		if v.Stamp.IsZero() {
			v.Stamp = now
		}
		sample = v
	case LocalPose:
		if v.Stamp.IsZero() {
			v.Stamp = now
		}
		sample = v
	case LocalVelocity:
		if v.Stamp.IsZero() {
			v.Stamp = now
		}
		sample = v
	case PositionSample:
		if v.Stamp.IsZero() {
			v.Stamp = now
		}
		sample = v
	case AxisError:
		if v.Stamp.IsZero() {
			v.Stamp = now
		}
		sample = v
	case GlobalFix:
		if v.Stamp.IsZero() {
			v.Stamp = now
		}
		sample = v
	case VelocityCommand:
		if v.Stamp.IsZero() {
			v.Stamp = now
		}
		// Freshness runs on the local clock; sender stamps may be skewed.
		v.Received = now
		sample = v
	default:
		return false
	}
	select {
	case s.queue <- sample:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Run drives Cycle at the configured rate until ctx is cancelled. Flight
// log records are written by a second goroutine which drains the record
// queue before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("vision: service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("vision: ctx is nil")
	}
	if s.tf == nil {
		return fmt.Errorf("vision: transform source is nil")
	}
	monitoring.Logf("vision: loop running rate=%s %s->%s calibration=%d samples", s.cfg.Rate, s.cfg.ParentFrame, s.cfg.ChildFrame, s.cal.Target())

	if s.sinks.Recorder != nil {
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.writeRecords(stop)
		}()
		defer func() {
			close(stop)
			wg.Wait()
		}()
	}

	tick := time.NewTicker(s.cfg.Rate)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			s.Cycle(s.now())
		}
	}
}

// Cycle runs one scheduler pass at now. Only the loop goroutine (or a test)
// may call it.
func (s *Service) Cycle(now time.Time) {
	s.drain()
	st := &s.state
	s.counters.Cycles++

	tr, err := s.tf.Lookup(s.cfg.ParentFrame, s.cfg.ChildFrame, time.Time{})
	if err != nil {
		st.Track.TransformUpdated = false
		s.counters.TransformMisses++
		if s.transformOK || !s.looked {
			monitoring.Logf("vision: transform %s->%s unavailable: %v", s.cfg.ParentFrame, s.cfg.ChildFrame, err)
		}
		s.transformOK = false
	} else {
		st.Track.Translation = tr.Translation
		st.Track.Rotation = tr.Rotation
		st.Yaw = frames.EulerFromQuaternion(tr.Rotation).Yaw
		st.Track.TransformUpdated = true
		if !s.transformOK {
			monitoring.Logf("vision: transform %s->%s acquired", s.cfg.ParentFrame, s.cfg.ChildFrame)
		}
		s.transformOK = true
		if s.cal.Calibrated() && s.sinks.Telemetry != nil {
			odom := pose.ComposeOdometry(&st.Track, st.Velocity, st.YawRate, st.YawOffset, now)
			if s.report("odometry", s.sinks.Telemetry.PublishOdometry(odom)) {
				s.counters.OdometryPublished++
			}
		}
	}
	s.looked = true

	// Nothing downstream runs on an uncalibrated heading.
	if s.cal.Calibrated() {
		if !s.est.Homed() {
			s.publishPose("homing", pose.HomingPose(now))
		}
		if p, ok := s.est.Estimate(&st.Track, st.YawOffset, now); ok {
			s.publishPose("vision", p)
		}
		s.stepHover(now)
	}

	s.updateSnapshot(now)
}

func (s *Service) stepHover(now time.Time) {
	st := &s.state
	d := s.hover.Step(now, st.Local, st.YawOffset)
	if d.Changed {
		hx, hy := s.hover.HoverXY()
		monitoring.Logf("vision: hover mode=%s hold=(%.2f, %.2f)", d.Mode, hx, hy)
		if s.sinks.OnMode != nil {
			s.sinks.OnMode(d.Mode)
		}
	}
	if d.Mode == hover.Relay {
		if s.sinks.Setpoints != nil && s.report("velocity", s.sinks.Setpoints.PublishVelocitySetpoint(d.Velocity)) {
			s.counters.CommandsRelayed++
		}
		s.enqueueRecord(record{kind: "velocity", twist: &d.Velocity})
		return
	}
	if s.sinks.Setpoints != nil && s.report("position", s.sinks.Setpoints.PublishPositionSetpoint(d.Position)) {
		s.counters.SetpointsPublished++
	}
	s.enqueueRecord(record{kind: "setpoint", pose: d.Position})
}

func (s *Service) publishPose(kind string, p pose.Pose) {
	if s.sinks.Setpoints != nil && s.report(kind, s.sinks.Setpoints.PublishVisionPose(p)) {
		if kind == "homing" {
			s.counters.HomingPublished++
		} else {
			s.counters.PosesPublished++
			cp := p
			s.lastPose = &cp
		}
	}
	s.enqueueRecord(record{kind: kind, pose: p})
}

// report logs publish failures on change and returns err == nil.
func (s *Service) report(kind string, err error) bool {
	prev, had := s.pubErrs[kind]
	if err == nil {
		if had {
			monitoring.Logf("vision: %s publish recovered", kind)
			delete(s.pubErrs, kind)
		}
		return true
	}
	s.counters.PublishErrors++
	msg := err.Error()
	if !had || prev != msg {
		monitoring.Logf("vision: %s publish failed: %v", kind, err)
	}
	s.pubErrs[kind] = msg
	s.lastErr = kind + ": " + msg
	return false
}

func (s *Service) drain() {
	n := len(s.queue)
	for i := 0; i < n; i++ {
		s.apply(<-s.queue)
	}
}

func (s *Service) apply(sample any) {
	st := &s.state
	switch v := sample.(type) {
	case imu.Sample:
		if !s.cal.Calibrated() && s.cal.Add(v.CalibrationSample()) {
			res, _ := s.cal.Result()
			st.Bias = res
			st.YawOffset = res.YawOffset
			monitoring.Logf("vision: imu calibrated samples=%d mean_yaw=%.4f yaw_offset=%.4f rad", res.Samples, res.MeanYaw, res.YawOffset)
		}
		if s.cal.Calibrated() && s.sinks.Telemetry != nil {
			if s.report("imu", s.sinks.Telemetry.PublishIMU(imu.Remap(v, st.Bias, v.Stamp))) {
				s.counters.IMURepublished++
			}
		}
	case LocalPose:
		st.Local = v.Position
	case LocalVelocity:
		st.Velocity = v.Linear
		st.YawRate = v.Angular.Z
	case PositionSample:
		st.Track.Error = v.Position
		st.Track.Z = v.Position.Z
		st.Track.ErrorUpdated = [2]bool{true, true}
	case AxisError:
		switch v.Axis {
		case AxisX:
			st.Track.Error.X = v.Value
			st.Track.ErrorUpdated[0] = true
		case AxisY:
			st.Track.Error.Y = v.Value
			st.Track.ErrorUpdated[1] = true
		case AxisZ:
			st.Track.Z = v.Value
		}
	case GlobalFix:
		if !st.HasGlobalFix {
			monitoring.Logf("vision: global position fix lat=%.6f lon=%.6f", v.LatDeg, v.LonDeg)
		}
		st.Global = v
		st.HasGlobalFix = true
	case VelocityCommand:
		// The rotation needs the calibrated heading offset.
		if !s.cal.Calibrated() {
			if s.counters.CommandsIgnored == 0 {
				monitoring.Logf("vision: ignoring velocity commands until imu calibration completes")
			}
			s.counters.CommandsIgnored++
			return
		}
		received := v.Received
		if received.IsZero() {
			received = s.now()
		}
		yaw := frames.WrapYaw(st.YawOffset + st.Yaw)
		s.hover.Command(v.Twist, yaw, received)
	}
}

func (s *Service) updateSnapshot(now time.Time) {
	hx, hy := s.hover.HoverXY()
	snap := s.counters
	snap.Calibrated = s.cal.Calibrated()
	snap.CalibrationSamples = s.cal.Count()
	snap.CalibrationTarget = s.cal.Target()
	snap.YawOffsetRad = s.state.YawOffset
	snap.Homed = s.est.Homed()
	snap.Mode = s.hover.Mode().String()
	snap.HoverX, snap.HoverY = hx, hy
	snap.TransformOK = s.transformOK
	snap.SamplesDropped = s.dropped.Load()
	snap.RecordsDropped = s.recordsDropped.Load()
	snap.RecordErrors = s.recordErrors.Load()
	snap.HasGlobalFix = s.state.HasGlobalFix
	snap.LastPose = s.lastPose
	snap.LastError = s.lastErr
	snap.UpdatedAt = now

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}
