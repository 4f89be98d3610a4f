package api

import (
	"net/http"
	"time"

	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/stage"
)

const checkTimeout = 3 * time.Second

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := append([]Checker{
		{Name: "database", Check: h.store.Ping},
		{Name: "storage", Check: h.artifacts.Check},
	}, h.checks...)

	resp := HealthResponse{
		Status:       "healthy",
		ModelVersion: h.cfg.Pipeline.ModelVersion,
		Checks:       make(map[string]HealthCheck, len(checks)),
	}
	for _, c := range checks {
		health := stage.Probe(r.Context(), c.Name, checkTimeout, c.Check)
		latency := health.Latency.Milliseconds()
		if health.Ready {
			resp.Checks[health.Name] = HealthCheck{Status: "up", LatencyMs: latency}
			continue
		}
		resp.Status = "degraded"
		resp.Checks[health.Name] = HealthCheck{Status: "down", Error: health.Detail, LatencyMs: latency}
		h.logger.Warn("health check failed",
			logging.String("check", health.Name),
			logging.String("detail", health.Detail),
			logging.Duration("latency", health.Latency),
		)
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.metrics.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("read metrics", logging.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "metrics unavailable")
		return
	}
	resp := MetricsResponse{
		Failures:    snap.Failures,
		StageRuns:   snap.StageRuns,
		StageMillis: snap.StageMillis,
	}
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Warn("job stats unavailable", logging.Error(err))
	} else {
		resp.Jobs = make(map[string]int, len(stats))
		for _, status := range jobs.AllStatuses() {
			resp.Jobs[string(status)] = stats[status]
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}
