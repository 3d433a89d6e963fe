package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/services"
)

type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	University      string `json:"university" validate:"max=200"`
	Website         string `json:"website" validate:"omitempty,url,max=200"`
	Description     string `json:"description" validate:"max=1000"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	ExpiresAt    int64   `json:"expiresAt"`
	User         UserDTO `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Register creates an active but unverified account and mails the activation
// link. A failing mailer does not undo the registration; the user can ask
// for the link again.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := services.ValidateStruct(req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := services.CreateUser(r.Context(), s.DB, s.Tokens, services.NewUser{
		Email:       req.Email,
		Password:    req.Password,
		University:  req.University,
		Website:     req.Website,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.Activation.Send(r.Context(), user); err != nil {
		zap.L().Warn("activation mail failed",
			zap.String("user_id", user.ID), zap.String("trace", eris.ToString(err, true)))
	}
	WriteJSON(w, http.StatusCreated, map[string]UserDTO{"user": newUserDTO(user)})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := services.Authenticate(r.Context(), s.DB, s.Tokens, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	pair, err := s.Tokens.IssuePair(user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := services.SetLastLogin(r.Context(), s.DB, user.ID); err != nil {
		zap.L().Warn("failed to record login", zap.String("user_id", user.ID), zap.Error(err))
	}
	WriteJSON(w, http.StatusOK, tokenResponse(pair, user))
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	token, claims, err := s.Tokens.ParseToken(req.RefreshToken)
	if err != nil || !token.Valid || claims["typ"] != services.TokenRefresh {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	userID, _ := claims["sub"].(string)
	user, err := services.GetUser(r.Context(), s.DB, userID)
	if err != nil || !user.IsActive {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	pair, err := s.Tokens.IssuePair(user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tokenResponse(pair, user))
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Activate(w http.ResponseWriter, r *http.Request) {
	user, err := s.Activation.Activate(r.Context(), s.DB, chi.URLParam(r, "uid"), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]UserDTO{"user": newUserDTO(user)})
}

func (s *Server) ResendActivation(w http.ResponseWriter, r *http.Request) {
	user, err := services.GetUser(r.Context(), s.DB, CurrentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.Activation.Resend(r.Context(), user); err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func tokenResponse(pair services.TokenPair, user models.User) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		User:         newUserDTO(user),
	}
}
