package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const defaultSweepHours = 24

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	hours := float64(defaultSweepHours)
	if raw := r.URL.Query().Get("older_than_hours"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "older_than_hours must be a non-negative number")
			return
		}
		hours = parsed
	}
	res, err := s.retention.Sweep(r.Context(), time.Duration(hours*float64(time.Hour)))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("manual sweep",
		zap.String("request_id", requestID(r.Context())),
		zap.Float64("older_than_hours", hours),
		zap.Int("removed", res.Count),
		zap.Int64("bytes_freed", res.BytesFreed),
	)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionParam(w, r)
	if !ok {
		return
	}
	freed, bytes, err := s.retention.Purge(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	count := 0
	if freed {
		count = 1
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"freed":       freed,
		"count":       count,
		"bytes_freed": bytes,
	})
}

func (s *Server) purgeAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.retention.PurgeAll(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	st, err := s.sessions.Stats()
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}
