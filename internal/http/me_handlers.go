package httpapi

import (
	"net/http"

	"spcbench-backend-go/internal/services"
)

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	user, err := services.GetUser(r.Context(), s.DB, CurrentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]UserDTO{"user": newUserDTO(user)})
}

// MyEntries lists the caller's active entries in every state, including the
// error text of failed evaluations.
func (s *Server) MyEntries(w http.ResponseWriter, r *http.Request) {
	user, err := services.GetUser(r.Context(), s.DB, CurrentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	entries, err := services.ListOwnEntries(r.Context(), s.DB, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	creator := &CreatorDTO{ID: user.ID, Email: user.Email, University: user.University}
	items := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		items = append(items, newEntryDTO(&entries[i], creator))
	}
	WriteJSON(w, http.StatusOK, map[string][]EntryDTO{"items": items})
}

func (s *Server) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := services.ValidateStruct(req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := services.GetUser(r.Context(), s.DB, CurrentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !s.Tokens.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	if err := services.SetPassword(r.Context(), s.DB, s.Tokens, user.ID, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
