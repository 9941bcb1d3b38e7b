package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// Build identifies the running binary from the toolchain-embedded build info.
type Build struct {
	Service   string `json:"service"`
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
	Version   string `json:"version,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	VCSTime   string `json:"vcs_time,omitempty"`
}

func ReadBuild(service string) Build {
	b := Build{Service: service, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return b
	}
	b.Module, b.Version = bi.Main.Path, bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.modified":
			b.Modified = s.Value == "true"
		case "vcs.time":
			b.VCSTime = s.Value
		}
	}
	return b
}

type AboutResponse struct {
	Build
	NowUTC string `json:"now_utc"`
}

func AboutHandler(service string) http.Handler {
	build := ReadBuild(service)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, AboutResponse{Build: build, NowUTC: time.Now().UTC().Format(time.RFC3339Nano)})
	})
}
