package httpapi

import (
	"context"
	"net/http"
	"strings"

	"spcbench-backend-go/internal/leaderboard"
	"spcbench-backend-go/internal/services"
)

type contextKey string

const (
	ctxUserID    contextKey = "userID"
	ctxEmail     contextKey = "email"
	ctxSuperuser contextKey = "superuser"
)

type accessClaims struct {
	UserID      string
	Email       string
	IsSuperuser bool
}

// parseAccess validates an access token and extracts the identity it carries.
func parseAccess(tokens services.TokenService, raw string) (accessClaims, bool) {
	if raw == "" {
		return accessClaims{}, false
	}
	token, claims, err := tokens.ParseToken(raw)
	if err != nil || !token.Valid {
		return accessClaims{}, false
	}
	if claims["typ"] != services.TokenAccess {
		return accessClaims{}, false
	}
	userID, _ := claims["sub"].(string)
	if userID == "" {
		return accessClaims{}, false
	}
	email, _ := claims["email"].(string)
	su, _ := claims["su"].(bool)
	return accessClaims{UserID: userID, Email: email, IsSuperuser: su}, true
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func withClaims(r *http.Request, c accessClaims) *http.Request {
	ctx := context.WithValue(r.Context(), ctxUserID, c.UserID)
	ctx = context.WithValue(ctx, ctxEmail, c.Email)
	ctx = context.WithValue(ctx, ctxSuperuser, c.IsSuperuser)
	return r.WithContext(ctx)
}

func WithAuth(tokenService services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := parseAccess(tokenService, bearerToken(r))
			if !ok {
				WriteError(w, http.StatusUnauthorized, "Authentication failed")
				return
			}
			next.ServeHTTP(w, withClaims(r, claims))
		})
	}
}

// OptionalAuth attaches the identity when a valid token is present and lets
// anonymous requests through otherwise. Browsers loading images cannot set
// headers, so a token query parameter is accepted as well.
func OptionalAuth(tokenService services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				raw = r.URL.Query().Get("token")
			}
			if claims, ok := parseAccess(tokenService, raw); ok {
				r = withClaims(r, claims)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUserID(r *http.Request) string {
	if value, ok := r.Context().Value(ctxUserID).(string); ok {
		return value
	}
	return ""
}

func IsSuperuser(r *http.Request) bool {
	value, _ := r.Context().Value(ctxSuperuser).(bool)
	return value
}

// CurrentViewer is the leaderboard identity of the request; empty for
// anonymous visitors.
func CurrentViewer(r *http.Request) leaderboard.Viewer {
	return leaderboard.Viewer{UserID: CurrentUserID(r), IsSuperuser: IsSuperuser(r)}
}

func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsSuperuser(r) {
			WriteError(w, http.StatusForbidden, "Not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}
