package server

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// Health is the body of /api/health.
type Health struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Environment HealthEnvironment `json:"environment"`
	Platform    HealthPlatform    `json:"platform"`
}

type HealthEnvironment struct {
	Mode             string `json:"mode"`
	LocalExampleHTML bool   `json:"localExampleHTML"`
	SnapshotsEnabled bool   `json:"snapshotsEnabled"`
	GoVersion        string `json:"goVersion"`
}

type HealthPlatform struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		Status:    "ok",
		Timestamp: s.timestamp(),
		Environment: HealthEnvironment{
			Mode:             s.cfg.Server.Mode,
			LocalExampleHTML: s.cfg.Upstream.LocalExampleHTML,
			SnapshotsEnabled: s.snapshots != nil,
			GoVersion:        runtime.Version(),
		},
		Platform: HealthPlatform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
	})
}

func (s *Server) handleVisaStatuses(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		origin = s.cfg.Visa.DefaultOrigin
	}
	res := s.visa.StatusesDetailed(r.Context(), origin)

	w.Header().Set("Cache-Control", s.cacheControl())
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
