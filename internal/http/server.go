package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"

	"spcbench-backend-go/internal/config"
	"spcbench-backend-go/internal/mail"
	"spcbench-backend-go/internal/manifest"
	"spcbench-backend-go/internal/services"
)

type Server struct {
	DB         *sqlx.DB
	Config     config.Config
	Tokens     services.TokenService
	Submitter  *services.Submitter
	Activation *services.Activation
	MetricsHub *services.MetricsHub
}

// NewServer wires the services used by the handlers. reference is the
// manifest every uploaded archive is checked against.
func NewServer(db *sqlx.DB, cfg config.Config, reference manifest.Set, mailer mail.Sender, hub *services.MetricsHub) *Server {
	tokens := services.TokenService{
		Secret:        []byte(cfg.Auth.JWTSecret),
		Issuer:        cfg.Auth.JWTIssuer,
		AccessTTL:     time.Duration(cfg.Auth.AccessTTLSeconds) * time.Second,
		RefreshTTL:    time.Duration(cfg.Auth.RefreshTTLSeconds) * time.Second,
		ActivationTTL: time.Duration(cfg.Auth.ActivationTTLSeconds) * time.Second,
	}
	return &Server{
		DB:     db,
		Config: cfg,
		Tokens: tokens,
		Submitter: &services.Submitter{
			DB:         db,
			Reference:  reference,
			UploadDir:  cfg.Storage.UploadDir,
			MaxBytes:   cfg.Upload.MaxBytes,
			DailyQuota: cfg.Upload.DailyQuota,
		},
		Activation: &services.Activation{
			Tokens:      tokens,
			Mailer:      mailer,
			SiteURL:     cfg.Server.SiteURL,
			ResendEvery: time.Minute,
		},
		MetricsHub: hub,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	if len(s.Config.Server.CorsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.Config.Server.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/register", s.Register)
			auth.Post("/login", s.Login)
			auth.Post("/refresh", s.Refresh)
			auth.Post("/logout", s.Logout)
			auth.Get("/activate/{uid}/{token}", s.Activate)
			auth.With(WithAuth(s.Tokens)).Post("/resend", s.ResendActivation)
		})

		api.Route("/me", func(me chi.Router) {
			me.Use(WithAuth(s.Tokens))
			me.Get("/", s.Me)
			me.Get("/entries", s.MyEntries)
			me.Put("/password", s.ChangePassword)
		})

		api.Route("/entries", func(entries chi.Router) {
			entries.With(WithAuth(s.Tokens)).Post("/", s.CreateEntry)
			entries.With(OptionalAuth(s.Tokens)).Get("/{uuid}", s.GetEntry)
			entries.With(WithAuth(s.Tokens)).Put("/{uuid}", s.UpdateEntry)
			entries.With(WithAuth(s.Tokens)).Delete("/{uuid}", s.DeleteEntry)
		})
		api.With(OptionalAuth(s.Tokens)).Get("/compare", s.Compare)

		api.Route("/leaderboard", func(lb chi.Router) {
			lb.Use(OptionalAuth(s.Tokens))
			lb.Get("/", s.Leaderboard)
			lb.Get("/metrics", s.LeaderboardMetrics)
			lb.Get("/export.xlsx", s.LeaderboardExport)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(WithAuth(s.Tokens))
			admin.Use(RequireSuperuser)
			admin.Get("/metrics/history", s.MetricsHistory)
			admin.Route("/users", func(users chi.Router) {
				users.Get("/", s.ListUsers)
				users.Get("/{userId}", s.AdminGetUser)
				users.Put("/{userId}", s.UpdateUser)
			})
			admin.Post("/entries/visibility", s.AdminSetVisibility)
			admin.Post("/entries/metrics", s.AdminOverwriteMetrics)
		})
	})

	r.With(OptionalAuth(s.Tokens)).Get("/auth/check/{kind}/{uuid}/*", s.AuthCheck)
	if s.Config.Server.ServeMedia {
		r.With(OptionalAuth(s.Tokens)).Get("/media/samples/{kind}/{uuid}/*", s.SampleMedia)
		r.Method(http.MethodGet, "/media/reference/*", s.ReferenceMedia())
	}
	r.Get("/ws/metrics", s.MetricsSocket)
	return r
}
