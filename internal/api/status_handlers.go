package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/proxy"
)

const (
	defaultFailureLimit = 50
	maxFailureLimit     = 500
	ledgerTimeout       = 3 * time.Second
)

// getStatus handles GET /v1/status with the live progress of the run.
func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.progress.Progress())
}

// listProxies handles GET /v1/proxies. Credentials are masked.
func (s *Server) listProxies(w http.ResponseWriter, _ *http.Request) {
	if s.proxies == nil {
		writeJSON(w, http.StatusOK, map[string]any{"proxies": []proxyDTO{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proxies": toProxyDTOs(s.proxies.Snapshot())})
}

// listFailures handles GET /v1/failures?limit=&offset=. It returns 400 for
// bad paging, 503 when no ledger is wired, or 500 if the ledger read fails.
func (s *Server) listFailures(w http.ResponseWriter, r *http.Request) {
	if s.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failure ledger unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultFailureLimit, maxFailureLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
	defer cancel()

	failures, err := s.failures.Failures(ctx)
	if err != nil {
		s.logger.Error("list failures failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}
	total := len(failures)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"failures": failures[offset:end],
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

type proxyDTO struct {
	Address             string     `json:"address"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastUsed            *time.Time `json:"last_used,omitempty"`
	BannedAt            *time.Time `json:"banned_at,omitempty"`
}

func toProxyDTOs(in []proxy.Record) []proxyDTO {
	out := make([]proxyDTO, 0, len(in))
	for _, rec := range in {
		dto := proxyDTO{
			Address:             rec.Redacted(),
			State:               string(rec.State),
			ConsecutiveFailures: rec.ConsecutiveFailures,
		}
		if !rec.LastUsed.IsZero() {
			t := rec.LastUsed
			dto.LastUsed = &t
		}
		if !rec.BannedAt.IsZero() {
			t := rec.BannedAt
			dto.BannedAt = &t
		}
		out = append(out, dto)
	}
	return out
}
