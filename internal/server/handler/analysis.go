package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// CycleRunner triggers one analysis cycle.
type CycleRunner interface {
	RunOnce(ctx context.Context) error
}

// AnalysisHandler exposes the ad-hoc analysis trigger, for operators who
// don't want to wait for the next scheduled cycle.
type AnalysisHandler struct {
	runner CycleRunner
	logger *slog.Logger
}

// NewAnalysisHandler creates an AnalysisHandler.
func NewAnalysisHandler(runner CycleRunner, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{runner: runner, logger: logger}
}

// TriggerCycle runs one analysis cycle synchronously.
// POST /api/analysis/run
func (h *AnalysisHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.RunOnce(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "triggered cycle failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "analysis cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
