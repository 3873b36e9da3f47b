package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/polypulse/polypulse/internal/domain"
)

// AlertHandler serves stored alerts and dismissal.
type AlertHandler struct {
	alerts domain.AlertSink
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(alerts domain.AlertSink, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logger}
}

type listAlertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListAlerts returns alerts, newest first. active=false includes dismissed
// alerts; type takes a comma-separated list of alert types.
// GET /api/alerts?active=true&type=arbitrage,volume_spike&limit=50
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	activeOnly := true
	if v := r.URL.Query().Get("active"); strings.EqualFold(v, "false") {
		activeOnly = false
	}

	var types []domain.AlertType
	if v := r.URL.Query().Get("type"); v != "" {
		for _, t := range strings.Split(v, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				types = append(types, domain.AlertType(t))
			}
		}
	}

	alerts, err := h.alerts.List(r.Context(), activeOnly, types, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list alerts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	writeJSON(w, http.StatusOK, listAlertsResponse{
		Alerts: alerts,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetAlert returns one alert by ID.
// GET /api/alerts/{id}
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing alert id")
		return
	}

	alert, err := h.alerts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get alert failed",
			slog.String("alert_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get alert")
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// DismissAlert marks an alert dismissed, releasing its dedup key so the
// condition can re-alert if it persists. Dismissing an already dismissed
// alert is a no-op.
// POST /api/alerts/{id}/dismiss
func (h *AlertHandler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing alert id")
		return
	}

	if err := h.alerts.Dismiss(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "dismiss alert failed",
			slog.String("alert_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to dismiss alert")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
