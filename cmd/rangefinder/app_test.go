package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-nav/internal/config"
	"vision-nav/internal/rangefinder"
	"vision-nav/internal/web"
)

func benchConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		Rangefinder: config.RangefinderConfig{Enable: true, Count: 2, Interval: 5 * time.Millisecond},
		Record:      config.RecordConfig{Enable: true, Path: filepath.Join(t.TempDir(), "ranges.db")},
		Sim:         config.SimConfig{Enable: true, AltitudeM: 1.5},
	}
	require.NoError(t, config.DefaultAndValidate(&cfg))
	return cfg
}

func TestApp_SimulatedRangers(t *testing.T) {
	status := web.NewStatus("rangefinder")
	a, err := newApp(benchConfig(t), status)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.svc.Snapshot().Readings >= 4 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}

	snap := a.svc.Snapshot()
	assert.Equal(t, 2, snap.Sensors)
	require.Len(t, snap.Last, 2)
	assert.InDelta(t, 1.5, snap.Last[0].RangeM, 1e-9)
	assert.InDelta(t, 1.4, snap.Last[1].RangeM, 1e-9)

	comp, ok := status.Snapshot(time.Time{}).Components["rangefinder"].(rangefinder.Snapshot)
	require.True(t, ok)
	assert.Equal(t, 2, comp.Sensors)

	sum, err := a.rec.Summary()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum.Ranges, 4)
	a.Close()
}

func TestApp_SerialMissingPortDegrades(t *testing.T) {
	cfg := benchConfig(t)
	cfg.Sim.Enable = false
	cfg.Record.Enable = false
	cfg.Rangefinder.Transport = "serial"
	cfg.Rangefinder.SerialPorts = []string{filepath.Join(t.TempDir(), "ttyNope")}
	cfg.Rangefinder.Count = 1

	a, err := newApp(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, a.svc.Init())
	assert.NotEmpty(t, a.svc.Snapshot().LastError)
	a.Close()
}
