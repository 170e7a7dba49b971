package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

type createVersionRequest struct {
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Payload    map[string]any `json:"payload"`
}

type payloadRequest struct {
	Payload map[string]any `json:"payload"`
}

type windowRequest struct {
	EffectiveStart *time.Time `json:"effectiveStart"`
	EffectiveEnd   *time.Time `json:"effectiveEnd"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) createVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entityType, err := domain.ParseEntityType(req.EntityType)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.deps.Versions.CreateDraftVersion(r.Context(), entityType, req.EntityID, req.Payload, s.audit(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Versions.GetVersion(r.Context(), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) updateVersion(w http.ResponseWriter, r *http.Request) {
	var req payloadRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.deps.Versions.UpdateDraftVersion(r.Context(), chi.URLParam(r, "versionID"), req.Payload, s.audit(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) setWindow(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.deps.Versions.SetEffectiveWindow(r.Context(), chi.URLParam(r, "versionID"),
		req.EffectiveStart, req.EffectiveEnd, s.audit(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) cloneVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Versions.CloneVersion(r.Context(), chi.URLParam(r, "versionID"), s.audit(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) transitionVersion(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := domain.ParseVersionStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.deps.Versions.TransitionVersionStatus(r.Context(), chi.URLParam(r, "versionID"), to, s.audit(r, req.Reason))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	entityType, err := domain.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeError(w, err)
		return
	}
	versions, err := s.deps.Versions.ListVersions(r.Context(), entityType, chi.URLParam(r, "entityID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []domain.VersionedEntity{}
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) compareVersions(w http.ResponseWriter, r *http.Request) {
	diff, err := s.deps.Versions.CompareVersions(r.Context(), chi.URLParam(r, "versionID"), chi.URLParam(r, "otherID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) versionHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Versions.History(r.Context(), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
