package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/services"
)

// rateRequest rates Context, or every entry of Contexts, against Program.
type rateRequest struct {
	Program  map[string]any            `json:"program"`
	Tables   map[string]map[string]any `json:"tables"`
	Context  *domain.EvalContext       `json:"context"`
	Contexts []domain.EvalContext      `json:"contexts"`
}

type ratePublishedRequest struct {
	RateProgramID string             `json:"rateProgramId"`
	AsOf          *time.Time         `json:"asOf"`
	Context       domain.EvalContext `json:"context"`
}

type resolveRequest struct {
	Table  map[string]any `json:"table"`
	Values map[string]any `json:"values"`
}

func (s *Server) rate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	program, err := services.DecodeRateProgram(req.Program)
	if err != nil {
		writeError(w, err)
		return
	}
	tables := make(domain.TableSet, len(req.Tables))
	for name, payload := range req.Tables {
		table, err := services.DecodeTable(name, payload)
		if err != nil {
			writeError(w, fmt.Errorf("table %s: %w", name, err))
			return
		}
		tables[name] = table
	}

	withRounding := func(ec domain.EvalContext) domain.EvalContext {
		if ec.Rounding.Mode == "" {
			ec.Rounding = program.Rounding
		}
		return ec
	}

	switch {
	case req.Contexts != nil:
		contexts := make([]domain.EvalContext, len(req.Contexts))
		for i, ec := range req.Contexts {
			contexts[i] = withRounding(ec)
		}
		results, err := s.deps.Rating.RateBatch(r.Context(), program.Steps, tables, contexts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	case req.Context != nil:
		result, err := s.deps.Rating.Rate(program.Steps, tables, withRounding(*req.Context))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, domain.NewValidationError("context", "one of context or contexts is required"))
	}
}

func (s *Server) ratePublished(w http.ResponseWriter, r *http.Request) {
	var req ratePublishedRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asOf := s.now().UTC()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	result, err := s.deps.Rating.RatePublished(r.Context(), req.RateProgramID, asOf, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) resolveTable(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	table, err := services.DecodeTable("", req.Table)
	if err != nil {
		writeError(w, err)
		return
	}
	resolution, err := s.deps.Rating.ResolveTable(table, req.Values)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}
