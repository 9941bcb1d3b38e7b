package web

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status aggregates the snapshots of the running components. Each component
// registers a provider; /api/status calls them on demand.
type Status struct {
	service       string
	startUnixNano int64

	mu        sync.RWMutex
	providers map[string]func() any
	static    atomic.Value // map[string]any
}

func NewStatus(service string) *Status {
	s := &Status{
		service:   service,
		providers: make(map[string]func() any),
	}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(map[string]any{})
	return s
}

// Register adds or replaces the provider for name. fn must be safe to call
// from HTTP handler goroutines.
func (s *Status) Register(name string, fn func() any) {
	if s == nil || fn == nil {
		return
	}
	s.mu.Lock()
	s.providers[name] = fn
	s.mu.Unlock()
}

// SetStatic records configuration facts shown alongside live state.
func (s *Status) SetStatic(info map[string]any) {
	if s == nil || info == nil {
		return
	}
	cp := make(map[string]any, len(info))
	for k, v := range info {
		cp[k] = v
	}
	s.static.Store(cp)
}

type StatusSnapshot struct {
	Service    string         `json:"service"`
	NowUTC     string         `json:"now_utc"`
	UptimeSec  int64          `json:"uptime_sec"`
	Static     map[string]any `json:"static"`
	Components map[string]any `json:"components"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	s.mu.RLock()
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	fns := make([]func() any, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		fns = append(fns, s.providers[name])
	}
	s.mu.RUnlock()

	comps := make(map[string]any, len(names))
	for i, name := range names {
		comps[name] = fns[i]()
	}
	return StatusSnapshot{
		Service:    s.service,
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		Static:     s.static.Load().(map[string]any),
		Components: comps,
	}
}
