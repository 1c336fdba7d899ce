package gateway

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status            string `json:"status"`
	DBOK              bool   `json:"db_ok"`
	SchemaVersion     int    `json:"schema_version,omitempty"`
	Version           string `json:"version,omitempty"`
	ConfigFingerprint string `json:"config_fingerprint,omitempty"`
	Generation        bool   `json:"generation"`
	Transcription     string `json:"transcription"`
	WSClients         int64  `json:"ws_clients"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	resp := healthResponse{
		Status:            "ok",
		Version:           s.cfg.Version,
		ConfigFingerprint: s.cfg.ConfigFingerprint,
		Generation:        s.cfg.GenerationEnabled,
		Transcription:     "none",
		WSClients:         s.wsClients.Load(),
	}
	if s.cfg.Transcriber != nil {
		resp.Transcription = s.cfg.Transcriber.Name()
	}

	status := http.StatusOK
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Health.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "health check: database ping failed", "error", err)
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.DBOK = true
			if v, err := s.cfg.Health.SchemaVersion(ctx); err == nil {
				resp.SchemaVersion = v
			}
		}
	}
	writeJSON(w, status, resp)
}
