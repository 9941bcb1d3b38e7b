package udp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-nav/internal/frames"
	"vision-nav/internal/tf"
	"vision-nav/internal/vision"
)

type sampleSink struct {
	mu      sync.Mutex
	samples []any
	full    bool
}

func (s *sampleSink) submit(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.samples = append(s.samples, v)
	return true
}

func (s *sampleSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestListener_Transform(t *testing.T) {
	buf := tf.NewBuffer(0)
	l := NewListener("", buf, (&sampleSink{}).submit)

	err := l.Handle([]byte(`{"type":"transform","parent":"/odom","child":"base_link","translation":{"x":1,"y":2,"z":0.5},"rotation":{"x":0,"y":0,"z":0.7071067811865476,"w":0.7071067811865476}}`))
	require.NoError(t, err)

	got, err := buf.Lookup("odom", "base_link", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, frames.Vec3{X: 1, Y: 2, Z: 0.5}, got.Translation)
	assert.InDelta(t, 0.7071067811865476, got.Rotation.Z, 1e-12)
}

func TestListener_TransformDefaultsToIdentity(t *testing.T) {
	buf := tf.NewBuffer(0)
	l := NewListener("", buf, nil)
	require.NoError(t, l.Handle([]byte(`{"type":"transform","parent":"odom","child":"base_link","translation":{"x":1}}`)))

	got, err := buf.Lookup("odom", "base_link", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, frames.Identity, got.Rotation)
}

func TestListener_RoutesSamples(t *testing.T) {
	sink := &sampleSink{}
	l := NewListener("", nil, sink.submit)

	require.NoError(t, l.Handle([]byte(`{"type":"position","position":{"x":1,"y":2,"z":3}}`)))
	require.NoError(t, l.Handle([]byte(`{"type":"cmd_vel","linear":{"x":0.5},"angular":{"z":0.1}}`)))
	require.NoError(t, l.Handle([]byte(`{"type":"error","axis":"y","value":-0.25}`)))

	require.Len(t, sink.samples, 3)
	assert.Equal(t, frames.Vec3{X: 1, Y: 2, Z: 3}, sink.samples[0].(vision.PositionSample).Position)
	cmd := sink.samples[1].(vision.VelocityCommand)
	assert.Equal(t, 0.5, cmd.Twist.Linear.X)
	assert.Equal(t, 0.1, cmd.Twist.Angular.Z)
	ae := sink.samples[2].(vision.AxisError)
	assert.Equal(t, vision.AxisY, ae.Axis)
	assert.Equal(t, -0.25, ae.Value)

	received, rejected, dropped := l.Counts()
	assert.Equal(t, uint64(3), received)
	assert.Zero(t, rejected)
	assert.Zero(t, dropped)
}

func TestListener_Rejects(t *testing.T) {
	l := NewListener("", tf.NewBuffer(0), (&sampleSink{}).submit)
	for _, in := range []string{
		`not json`,
		`{}`,
		`{"type":"teleport"}`,
		`{"type":"error","axis":"w","value":1}`,
		`{"type":"transform","parent":"","child":"base_link"}`,
	} {
		assert.Error(t, l.Handle([]byte(in)), in)
	}
	_, rejected, _ := l.Counts()
	assert.Equal(t, uint64(5), rejected)
}

func TestListener_QueueFullCountsDrop(t *testing.T) {
	sink := &sampleSink{full: true}
	l := NewListener("", nil, sink.submit)
	require.NoError(t, l.Handle([]byte(`{"type":"position","position":{"x":1}}`)))
	_, _, dropped := l.Counts()
	assert.Equal(t, uint64(1), dropped)
}

func TestListener_ServeLoopback(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	sink := &sampleSink{}
	l := NewListener(conn.LocalAddr().String(), nil, sink.submit)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.serve(ctx, conn) }()

	out, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()
	_, err = out.Write([]byte(`{"type":"position","position":{"x":4}}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, conn.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}
