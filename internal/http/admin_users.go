package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/services"
)

type PagedUsersResponse struct {
	Items    []UserDTO `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
}

type VisibilityRequest struct {
	UUIDs      []string `json:"uuids" validate:"required,min=1"`
	Visibility string   `json:"visibility" validate:"required,oneof=PUBL PRIV ANON"`
}

type MetricsOverwriteRequest struct {
	UUIDs   []string           `json:"uuids" validate:"required,min=1"`
	Metrics map[string]float64 `json:"metrics" validate:"required,min=1"`
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	page := parseInt(r.URL.Query().Get("page"), 1)
	pageSize := parseInt(r.URL.Query().Get("pageSize"), 25)
	if pageSize > 100 {
		pageSize = 100
	}
	users, total, err := services.ListUsers(r.Context(), s.DB, strings.TrimSpace(r.URL.Query().Get("search")), page, pageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	items := make([]UserDTO, 0, len(users))
	for _, u := range users {
		items = append(items, newUserDTO(u))
	}
	WriteJSON(w, http.StatusOK, PagedUsersResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
}

func (s *Server) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := services.GetUser(r.Context(), s.DB, chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]UserDTO{"user": newUserDTO(user)})
}

// UpdateUser toggles account flags. Superusers cannot demote or disable
// themselves.
func (s *Server) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req services.UserFlags
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	userID := chi.URLParam(r, "userId")
	if userID == CurrentUserID(r) &&
		((req.IsSuperuser != nil && !*req.IsSuperuser) || (req.IsActive != nil && !*req.IsActive)) {
		WriteError(w, http.StatusBadRequest, "You cannot remove your own access.")
		return
	}
	user, err := services.UpdateUserFlags(r.Context(), s.DB, userID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]UserDTO{"user": newUserDTO(user)})
}

func (s *Server) AdminSetVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := services.ValidateStruct(req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	updated, err := services.SetVisibility(r.Context(), s.DB, req.UUIDs, models.Visibility(req.Visibility))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// AdminOverwriteMetrics sets the given metrics on every listed entry; metrics
// not in the payload keep their values.
func (s *Server) AdminOverwriteMetrics(w http.ResponseWriter, r *http.Request) {
	var req MetricsOverwriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := services.ValidateStruct(req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	updated, err := services.OverwriteMetrics(r.Context(), s.DB, req.UUIDs, req.Metrics)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}
