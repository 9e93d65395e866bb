package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type assignParentRequest struct {
	ParentID string `json:"parent_id"`
}

func (h *handler) subscriptionAccess(w http.ResponseWriter, r *http.Request) {
	caller, _ := GetCaller(r.Context())
	id := chi.URLParam(r, "id")
	modules, err := h.access.ResolveForIdentity(r.Context(), caller.IdentityID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription_id": id, "modules": modules})
}

// moduleAccess answers GET /access/modules/{moduleKey}. With ?feature=<key> it reports that
// feature instead of the whole grant.
func (h *handler) moduleAccess(w http.ResponseWriter, r *http.Request) {
	caller, _ := GetCaller(r.Context())
	moduleKey := chi.URLParam(r, "moduleKey")

	if feature := r.URL.Query().Get("feature"); feature != "" {
		enabled, err := h.access.HasFeature(r.Context(), caller.IdentityID, moduleKey, feature)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"module_key": moduleKey, "feature": feature, "enabled": enabled})
		return
	}

	res, err := h.access.CheckModuleAccess(r.Context(), caller.IdentityID, moduleKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// checkLimit answers GET /access/limits/{operation}?usage=N with 200 when one more is allowed.
func (h *handler) checkLimit(w http.ResponseWriter, r *http.Request) {
	caller, _ := GetCaller(r.Context())
	operation := chi.URLParam(r, "operation")
	usage, err := strconv.ParseInt(r.URL.Query().Get("usage"), 10, 64)
	if err != nil || usage < 0 {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "usage must be a non-negative integer")
		return
	}
	if err := h.access.EnforceLimit(r.Context(), caller.IdentityID, operation, usage); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operation": operation, "allowed": true})
}

func (h *handler) assignParent(w http.ResponseWriter, r *http.Request) {
	var req assignParentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.access.AssignParent(r.Context(), chi.URLParam(r, "id"), req.ParentID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
