package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/polypulse/polypulse/internal/domain"
)

// ArchiveReader is the cold-storage slice the handler needs.
type ArchiveReader interface {
	ListArchives(ctx context.Context, kind string) ([]string, error)
	ReadTrades(ctx context.Context, path string) ([]domain.Trade, error)
}

// ArchiveHandler lets operators inspect cold storage without S3 tooling.
type ArchiveHandler struct {
	archives ArchiveReader
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archives ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logger}
}

// ListArchives returns the object keys for one archive kind.
// GET /api/archives?kind=trades
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "trades", "orderbooks", "alerts":
	default:
		writeError(w, http.StatusBadRequest, "kind must be trades, orderbooks or alerts")
		return
	}

	keys, err := h.archives.ListArchives(r.Context(), kind)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "archives": keys})
}

// ReadTradeArchive streams one archived trade file back as JSON.
// GET /api/archives/trades?path=archive/trades/2025-06.jsonl
func (h *ArchiveHandler) ReadTradeArchive(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}

	trades, err := h.archives.ReadTrades(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "read archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"path": path, "trades": trades})
}
