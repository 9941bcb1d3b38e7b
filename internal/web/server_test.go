package web

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, logs *LogBuffer) (*Status, *httptest.Server) {
	t.Helper()
	st := NewStatus("vision-nav")
	st.SetStatic(map[string]any{"rate": "50ms"})
	st.Register("vision", func() any { return map[string]any{"mode": "hold", "calibrated": true} })
	st.Register("rangefinder", func() any { return map[string]any{"sensors": 2} })
	ts := httptest.NewServer(Handler(st, logs))
	t.Cleanup(ts.Close)
	return st, ts
}

func TestAPIStatus(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "vision-nav" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.Static["rate"] != "50ms" {
		t.Fatalf("static=%v", snap.Static)
	}
	vis, ok := snap.Components["vision"].(map[string]any)
	if !ok || vis["mode"] != "hold" {
		t.Fatalf("components=%v", snap.Components)
	}
}

func TestAPIStatus_Component(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/status/rangefinder")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["sensors"] != 2.0 {
		t.Fatalf("out=%v", out)
	}

	resp2, err := http.Get(ts.URL + "/api/status/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d want 404", resp2.StatusCode)
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestRootPage(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "/api/status/vision") {
		t.Fatalf("root page missing component link: %s", body)
	}

	resp2, err := http.Get(ts.URL + "/elsewhere")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d want 404", resp2.StatusCode)
	}
}

func TestAPILogs_TeedFromLogger(t *testing.T) {
	logs := NewLogBuffer(10)
	lg := log.New(logs, "", 0)
	lg.Printf("vision: imu calibrated")
	lg.Printf("vision: hover mode=relay")

	_, ts := newTestServer(t, logs)
	resp, err := http.Get(ts.URL + "/api/logs?tail=1")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()

	var out LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Lines) != 1 || out.Lines[0] != "vision: hover mode=relay" {
		t.Fatalf("lines=%v", out.Lines)
	}
}

func TestAPIAbout(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/about")
	if err != nil {
		t.Fatalf("get about: %v", err)
	}
	defer resp.Body.Close()
	var out AboutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Service != "vision-nav" || out.GoVersion == "" {
		t.Fatalf("about=%+v", out)
	}
}
