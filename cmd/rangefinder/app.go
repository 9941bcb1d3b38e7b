package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"vision-nav/internal/config"
	"vision-nav/internal/flightlog"
	"vision-nav/internal/i2c"
	"vision-nav/internal/mavlink"
	"vision-nav/internal/rangefinder"
	"vision-nav/internal/sim"
	"vision-nav/internal/udp"
	"vision-nav/internal/web"
)

type app struct {
	cfg config.Config

	bus   *i2c.Bus
	link  *mavlink.Link
	bcast *udp.Broadcaster
	rec   *flightlog.Recorder
	svc   *rangefinder.Service
}

func newApp(cfg config.Config, status *web.Status) (*app, error) {
	a := &app{cfg: cfg}

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

	var sinks []rangefinder.Sink
	if a.link != nil {
		sinks = append(sinks, a.link)
	}
	if cfg.UDP.Telemetry != "" {
		b, err := udp.NewBroadcaster(cfg.UDP.Telemetry)
		if err != nil {
			log.Printf("udp telemetry disabled: %v", err)
		} else {
			a.bcast = b
			sinks = append(sinks, udp.NewTelemetry(b))
		}
	}
	if cfg.Record.Enable {
		rec, err := flightlog.Open(cfg.Record.Path, cfg.Record.Notes)
		if err != nil {
			log.Printf("flight recorder disabled: %v", err)
		} else {
			a.rec = rec
			sinks = append(sinks, rec)
		}
	}

	a.svc = rangefinder.New(rangefinder.Config{
		Count:    cfg.Rangefinder.Count,
		Interval: cfg.Rangefinder.Interval,
		Stagger:  cfg.Rangefinder.Stagger,
	}, a.opener(), sinks...)

	if status != nil {
		status.SetStatic(map[string]any{
			"transport":        cfg.Rangefinder.Transport,
			"count":            cfg.Rangefinder.Count,
			"interval":         cfg.Rangefinder.Interval.String(),
			"stagger":          cfg.Rangefinder.Stagger.String(),
			"mavlink_endpoint": cfg.MAVLink.Endpoint,
			"udp_telemetry":    cfg.UDP.Telemetry,
			"sim":              cfg.Sim.Enable,
		})
		status.Register("rangefinder", func() any { return a.svc.Snapshot() })
		if a.link != nil {
			status.Register("mavlink", func() any { return a.link.Snapshot() })
		}
	}
	return a, nil
}

// opener picks the sensor transport. A bus that cannot be opened surfaces
// through Init, which degrades to an empty sensor list.
func (a *app) opener() rangefinder.Opener {
	rf := a.cfg.Rangefinder
	if a.cfg.Sim.Enable {
		return sim.RangerOpener(sim.Vehicle{
			RadiusM:   a.cfg.Sim.RadiusM,
			AltitudeM: a.cfg.Sim.AltitudeM,
			Period:    a.cfg.Sim.Period,
		}, 0.1)
	}
	if rf.Transport == "serial" {
		return rangefinder.SerialOpener(rf.SerialPorts, rf.Baud)
	}
	bus, err := i2c.Open(rf.I2CBus)
	if err != nil {
		return func(int) (rangefinder.Ranger, error) { return nil, err }
	}
	a.bus = bus
	return rangefinder.I2COpener(bus, rf.BaseAddr)
}

func (a *app) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app is nil")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.link != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Inbound traffic is not used here; draining keeps the node moving.
			err := a.link.Run(ctx, mavlink.Discard)
			if err != nil && ctx.Err() == nil {
				log.Printf("mavlink stopped: %v", err)
				cancel()
			}
		}()
	}

	err := a.svc.Run(ctx)
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
		if err := a.rec.Close(); err != nil {
			log.Printf("flightlog close: %v", err)
		}
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
}
