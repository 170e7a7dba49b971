package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

type createChangeSetRequest struct {
	Title         string   `json:"title"`
	Jurisdictions []string `json:"jurisdictions"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type roleRequest struct {
	Role  string `json:"role"`
	Notes string `json:"notes"`
}

func changeSetID(r *http.Request) string {
	return chi.URLParam(r, "changeSetID")
}

// respondChangeSet writes the change set or the error.
func respondChangeSet(w http.ResponseWriter, status int, cs *domain.ChangeSet, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, cs)
}

func (s *Server) createChangeSet(w http.ResponseWriter, r *http.Request) {
	var req createChangeSetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cs, err := s.deps.ChangeSets.CreateChangeSet(r.Context(), req.Title, req.Jurisdictions, s.audit(r, ""))
	respondChangeSet(w, http.StatusCreated, cs, err)
}

func (s *Server) listChangeSets(w http.ResponseWriter, r *http.Request) {
	var status domain.ChangeSetStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseChangeSetStatus(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		status = parsed
	}
	sets, err := s.deps.ChangeSets.ListChangeSets(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	if sets == nil {
		sets = []domain.ChangeSet{}
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) getChangeSet(w http.ResponseWriter, r *http.Request) {
	cs, err := s.deps.ChangeSets.GetChangeSet(r.Context(), changeSetID(r))
	respondChangeSet(w, http.StatusOK, cs, err)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var item domain.ChangeSetItem
	if err := decode(r, &item); err != nil {
		writeError(w, err)
		return
	}
	cs, err := s.deps.ChangeSets.AddItem(r.Context(), changeSetID(r), item, s.audit(r, ""))
	respondChangeSet(w, http.StatusOK, cs, err)
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	cs, err := s.deps.ChangeSets.RemoveItem(r.Context(), changeSetID(r), chi.URLParam(r, "versionID"), s.audit(r, ""))
	respondChangeSet(w, http.StatusOK, cs, err)
}

func (s *Server) submitChangeSet(w http.ResponseWriter, r *http.Request) {
	cs, err := s.deps.ChangeSets.SubmitForReview(r.Context(), changeSetID(r), s.audit(r, ""))
	respondChangeSet(w, http.StatusOK, cs, err)
}

func (s *Server) returnChangeSet(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cs, err := s.deps.ChangeSets.ReturnToDraft(r.Context(), changeSetID(r), s.audit(r, req.Reason))
	respondChangeSet(w, http.StatusOK, cs, err)
}

func (s *Server) approveChangeSet(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cs, err := s.deps.ChangeSets.Approve(r.Context(), changeSetID(r), req.Role, s.audit(r, ""))
	respondChangeSet(w, http.StatusOK, cs, err)
}

func (s *Server) rejectChangeSet(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cs, err := s.deps.ChangeSets.Reject(r.Context(), changeSetID(r), req.Role, req.Notes, s.audit(r, req.Notes))
	respondChangeSet(w, http.StatusOK, cs, err)
}

func (s *Server) publishChangeSet(w http.ResponseWriter, r *http.Request) {
	cs, err := s.deps.ChangeSets.Publish(r.Context(), changeSetID(r), s.audit(r, ""))
	respondChangeSet(w, http.StatusOK, cs, err)
}

func (s *Server) cloneChangeSet(w http.ResponseWriter, r *http.Request) {
	cs, err := s.deps.ChangeSets.CloneChangeSet(r.Context(), changeSetID(r), s.audit(r, ""))
	respondChangeSet(w, http.StatusCreated, cs, err)
}

func (s *Server) preflight(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.ChangeSets.GetPublishPreflight(r.Context(), changeSetID(r), r.URL.Query()["jurisdiction"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) auditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.ChangeSets.AuditTrail(r.Context(), changeSetID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
