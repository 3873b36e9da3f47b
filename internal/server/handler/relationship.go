package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/polypulse/polypulse/internal/domain"
)

// RelationshipHandler serves the relationship graph. Edges are produced by
// an external tagging process; this API is its ingestion path.
type RelationshipHandler struct {
	edges  domain.RelationshipProvider
	logger *slog.Logger
}

// NewRelationshipHandler creates a RelationshipHandler.
func NewRelationshipHandler(edges domain.RelationshipProvider, logger *slog.Logger) *RelationshipHandler {
	return &RelationshipHandler{edges: edges, logger: logger}
}

// ListRelationships returns edges, optionally filtered by type.
// GET /api/relationships?type=mutually_exclusive
func (h *RelationshipHandler) ListRelationships(w http.ResponseWriter, r *http.Request) {
	var (
		edges []domain.RelationshipEdge
		err   error
	)
	if t := r.URL.Query().Get("type"); t != "" {
		edges, err = h.edges.ListByType(r.Context(), domain.EdgeType(t))
	} else {
		edges, err = h.edges.ListAll(r.Context())
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list relationships failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list relationships")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"relationships": edges})
}

type upsertEdgeRequest struct {
	Type           string  `json:"type"`
	ParentMarketID string  `json:"parent_market_id"`
	ChildMarketID  string  `json:"child_market_id"`
	GroupID        string  `json:"group_id"`
	Confidence     float64 `json:"confidence"`
	Notes          string  `json:"notes"`
}

// UpsertRelationship creates or updates one edge.
// POST /api/relationships
func (h *RelationshipHandler) UpsertRelationship(w http.ResponseWriter, r *http.Request) {
	var req upsertEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch domain.EdgeType(req.Type) {
	case domain.EdgeMutuallyExclusive, domain.EdgeConditional, domain.EdgeTimeSequence, domain.EdgeSubset:
	default:
		writeError(w, http.StatusBadRequest, "unknown relationship type")
		return
	}
	if req.ParentMarketID == "" || req.ChildMarketID == "" {
		writeError(w, http.StatusBadRequest, "parent_market_id and child_market_id are required")
		return
	}
	if domain.EdgeType(req.Type) == domain.EdgeMutuallyExclusive && req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "mutually exclusive edges require group_id")
		return
	}

	edge := domain.RelationshipEdge{
		Type:           domain.EdgeType(req.Type),
		ParentMarketID: req.ParentMarketID,
		ChildMarketID:  req.ChildMarketID,
		GroupID:        req.GroupID,
		Confidence:     req.Confidence,
		Notes:          req.Notes,
	}
	if err := h.edges.Upsert(r.Context(), edge); err != nil {
		h.logger.ErrorContext(r.Context(), "upsert relationship failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to save relationship")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
