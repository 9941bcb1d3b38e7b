package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer is an io.Writer that keeps the most recent log lines in a ring.
// Every line gets a sequence number so pollers can ask for what is new.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []string
	next    int // ring index of the next write
	size    int
	seq     uint64 // sequence number of the newest line
	partial []byte
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{ring: make([]string, maxLines)}
}

// Write splits p on newlines; a trailing fragment waits for the next Write.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.pushLocked(string(data[:i]))
		data = data[i+1:]
	}
	b.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (b *LogBuffer) pushLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.ring[b.next] = line
	b.next = (b.next + 1) % len(b.ring)
	if b.size < len(b.ring) {
		b.size++
	}
	b.seq++
}

// Lines returns up to tail lines newer than since, oldest first, and the
// sequence number of the newest line. Dropped counts lines that fell out of
// the ring before the caller saw them.
func (b *LogBuffer) Lines(since uint64, tail int) (lines []string, last uint64, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	last = b.seq
	if since >= b.seq {
		return nil, last, 0
	}
	n := int(b.seq - since)
	if n > b.size {
		dropped = uint64(n - b.size)
		n = b.size
	}
	if tail > 0 && n > tail {
		n = tail
	}
	lines = make([]string, 0, n)
	start := (b.next - n + len(b.ring)) % len(b.ring)
	for i := 0; i < n; i++ {
		lines = append(lines, b.ring[(start+i)%len(b.ring)])
	}
	return lines, last, dropped
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Last    uint64   `json:"last"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

func parseQueryUint(r *http.Request, key string, max uint64) (uint64, error) {
	s := strings.TrimSpace(r.URL.Query().Get(key))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || (max > 0 && v > max) {
		return 0, fmt.Errorf("%s must be an integer in [0,%d]", key, max)
	}
	return v, nil
}

// Handler serves GET /api/logs?tail=N&since=SEQ[&format=text].
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tail, err := parseQueryUint(r, "tail", 5000)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if tail == 0 {
			tail = 200
		}
		since, err := parseQueryUint(r, "since", 0)
		if err != nil {
			http.Error(w, "since must be a sequence number", http.StatusBadRequest)
			return
		}

		lines, last, dropped := b.Lines(since, int(tail))
		if strings.EqualFold(r.URL.Query().Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			for _, line := range lines {
				_, _ = fmt.Fprintln(w, line)
			}
			return
		}
		if lines == nil {
			lines = []string{}
		}
		writeJSON(w, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Last:    last,
			Dropped: dropped,
			Lines:   lines,
		})
	})
}
