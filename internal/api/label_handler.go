package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/droneai/review-agent/internal/labels"
	"github.com/go-chi/chi/v5"
)

func groupToResponse(g labels.Group) LabelGroupResponse {
	return LabelGroupResponse{Name: g.Name, Labels: LabelsToResponse(g.Labels)}
}

func listLabelGroupsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := LabelGroupsResponse{Groups: []LabelGroupResponse{}}
		if cfg.Labels != nil {
			for _, g := range cfg.Labels.List() {
				resp.Groups = append(resp.Groups, groupToResponse(g))
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func putLabelGroupHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Labels == nil {
			WriteError(w, http.StatusServiceUnavailable, "label groups are not configured", "UNAVAILABLE")
			return
		}

		var req PutLabelGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		g := labels.Group{Name: chi.URLParam(r, "name"), Labels: LabelsFromRequest(req.Labels)}
		if err := g.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err := cfg.Labels.Save(g); err != nil {
			if errors.Is(err, labels.ErrInvalidGroup) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to save label group", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, groupToResponse(g))
	}
}
