package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"vision-nav/internal/config"
	"vision-nav/internal/flightlog"
	"vision-nav/internal/hover"
	"vision-nav/internal/indicator"
	"vision-nav/internal/mavlink"
	"vision-nav/internal/sim"
	"vision-nav/internal/tf"
	"vision-nav/internal/udp"
	"vision-nav/internal/vision"
	"vision-nav/internal/web"
)

// app owns every component of the publisher process.
type app struct {
	cfg config.Config

	tf        *tf.Buffer
	vision    *vision.Service
	link      *mavlink.Link
	bcast     *udp.Broadcaster
	telemetry *udp.Telemetry
	listener  *udp.Listener
	source    *sim.Source
	rec       *flightlog.Recorder
	led       *indicator.LED
}

// newApp builds the component graph. Only a MAVLink endpoint that cannot be
// opened is an error; every other optional part degrades with a log line.
func newApp(cfg config.Config, status *web.Status) (*app, error) {
	a := &app{cfg: cfg, tf: tf.NewBuffer(cfg.TF.MaxAge)}

	if cfg.MAVLink.Endpoint != "" {
		link, err := mavlink.Open(mavlink.Config{
			Endpoint:        cfg.MAVLink.Endpoint,
			SystemID:        cfg.MAVLink.SystemID,
			ComponentID:     cfg.MAVLink.ComponentID,
			TargetSystem:    cfg.MAVLink.TargetSystem,
			TargetComponent: cfg.MAVLink.TargetComponent,
		})
		if err != nil {
			return nil, fmt.Errorf("mavlink init failed: %w", err)
		}
		a.link = link
	}

	if cfg.UDP.Telemetry != "" {
		b, err := udp.NewBroadcaster(cfg.UDP.Telemetry)
		if err != nil {
			log.Printf("udp telemetry disabled: %v", err)
		} else {
			a.bcast = b
			a.telemetry = udp.NewTelemetry(b)
		}
	}

	if cfg.Record.Enable {
		rec, err := flightlog.Open(cfg.Record.Path, cfg.Record.Notes)
		if err != nil {
			log.Printf("flight recorder disabled: %v", err)
		} else {
			a.rec = rec
		}
	}

	a.led = indicator.Open(cfg.Indicator.Pin)

	a.vision = vision.New(vision.Config{
		Rate:               cfg.Vision.Rate,
		ParentFrame:        cfg.Vision.ParentFrame,
		ChildFrame:         cfg.Vision.ChildFrame,
		QueueSize:          cfg.Vision.QueueSize,
		RecordQueue:        cfg.Record.Queue,
		CalibrationSamples: cfg.Calibration.Samples,
		Hover: hover.Config{
			Window:    cfg.Hover.Window,
			AltitudeM: cfg.Hover.AltitudeM,
		},
	}, a.tf, a.sinks())

	if cfg.UDP.Listen != "" {
		a.listener = udp.NewListener(cfg.UDP.Listen, a.tf, a.vision.Submit)
	}

	if cfg.Sim.Enable {
		a.source = sim.NewSource(sim.SourceConfig{
			Vehicle: sim.Vehicle{
				RadiusM:       cfg.Sim.RadiusM,
				AltitudeM:     cfg.Sim.AltitudeM,
				Period:        cfg.Sim.Period,
				HeadingOffset: cfg.Sim.HeadingOffset,
			},
			Rate:        cfg.Sim.Rate,
			CommandDuty: cfg.Sim.CommandDuty,
			ParentFrame: cfg.Vision.ParentFrame,
			ChildFrame:  cfg.Vision.ChildFrame,
		}, a.tf, a.vision.Submit)
	}

	a.register(status)
	return a, nil
}

// sinks assigns only non-nil components so the interfaces stay nil-comparable.
func (a *app) sinks() vision.Sinks {
	var s vision.Sinks
	switch {
	case a.link != nil:
		s.Setpoints = a.link
	case a.telemetry != nil:
		s.Setpoints = a.telemetry
	}
	if a.telemetry != nil {
		s.Telemetry = a.telemetry
	}
	if a.rec != nil {
		s.Recorder = a.rec
	}
	s.OnMode = a.led.OnMode
	return s
}

func (a *app) register(status *web.Status) {
	if status == nil {
		return
	}
	status.SetStatic(map[string]any{
		"parent_frame":       a.cfg.Vision.ParentFrame,
		"child_frame":        a.cfg.Vision.ChildFrame,
		"rate":               a.cfg.Vision.Rate.String(),
		"hover_window":       a.cfg.Hover.Window.String(),
		"calibration":        a.cfg.Calibration.Samples,
		"mavlink_endpoint":   a.cfg.MAVLink.Endpoint,
		"udp_listen":         a.cfg.UDP.Listen,
		"udp_telemetry":      a.cfg.UDP.Telemetry,
		"sim":                a.cfg.Sim.Enable,
		"indicator_gpio_pin": a.cfg.Indicator.Pin,
	})
	status.Register("vision", func() any { return a.vision.Snapshot() })
	if a.link != nil {
		status.Register("mavlink", func() any { return a.link.Snapshot() })
	}
	if a.listener != nil || a.bcast != nil {
		status.Register("udp", func() any {
			out := map[string]any{}
			if a.listener != nil {
				rx, rej, drop := a.listener.Counts()
				out["ingest"] = map[string]uint64{"received": rx, "rejected": rej, "dropped": drop}
			}
			if a.bcast != nil {
				sent, failed := a.bcast.Counts()
				out["telemetry"] = map[string]any{"dest": a.bcast.Dest(), "sent": sent, "failed": failed}
			}
			return out
		})
	}
	if a.rec != nil {
		status.Register("flightlog", func() any {
			sum, err := a.rec.Summary()
			if err != nil {
				return map[string]string{"error": err.Error()}
			}
			return sum
		})
	}
	status.Register("indicator", func() any {
		return map[string]bool{"enabled": a.led.Enabled(), "on": a.led.On()}
	})
}

// Run starts the inputs in the background and drives the scheduler loop
// until ctx is cancelled. A failing input stops the whole process.
func (a *app) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app is nil")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.Printf("%s stopped: %v", name, err)
				cancel()
			}
		}()
	}

	if a.link != nil {
		spawn("mavlink", func(ctx context.Context) error { return a.link.Run(ctx, a.vision.Submit) })
	}
	if a.listener != nil {
		spawn("udp ingest", a.listener.Run)
	}
	if a.source != nil {
		spawn("sim", a.source.Run)
	}

	err := a.vision.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

func (a *app) Close() {
	if a == nil {
		return
	}
	if a.link != nil {
		a.link.Close()
	}
	if a.bcast != nil {
		_ = a.bcast.Close()
	}
	if a.rec != nil {
		if sum, err := a.rec.Summary(); err == nil {
			log.Printf("flightlog: session %s poses=%v twists=%v", sum.Session, sum.Poses, sum.Twists)
		}
		if err := a.rec.Close(); err != nil {
			log.Printf("flightlog close: %v", err)
		}
	}
	if a.led != nil {
		_ = a.led.Close()
	}
}
