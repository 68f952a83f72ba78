package http

import (
	"net/http"

	"beacon/internal/auth"
	"beacon/internal/broadcast"
	"beacon/internal/config"
	"beacon/internal/customer"
	"beacon/internal/http/handler"
	mw "beacon/internal/http/middleware"
	"beacon/internal/jobs"
	"beacon/internal/lead"
	"beacon/internal/mail"
	"beacon/internal/tracking"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Cfg        config.Config
	DB         *gorm.DB
	JWT        *auth.JWT
	Hub        *broadcast.Hub
	Events     broadcast.Publisher
	Dispatcher *jobs.Dispatcher
	Mailer     *mail.Mailer
	Log        *zap.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(d.Cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(d.Cfg.CORSAllowedOrigins, d.Cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{DB: d.DB, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{}
	r.With(auth.RequireAuth(d.JWT)).Get("/me", me.Me)

	customerSvc := &customer.Service{DB: d.DB}
	trackingSvc := &tracking.Service{DB: d.DB, Log: d.Log}
	leadSvc := &lead.Service{DB: d.DB, Mailer: d.Mailer, Log: d.Log}
	repo := &jobs.Repo{DB: d.DB}
	health := &tracking.HealthChecker{Events: d.Events, Log: d.Log}

	customerH := &handler.CustomerHandler{Svc: customerSvc, DB: d.DB}
	trackingH := &handler.TrackingHandler{Customers: customerSvc, Svc: trackingSvc, Health: health, DB: d.DB}
	batchH := &handler.BatchHandler{Customers: customerSvc, Svc: trackingSvc, Repo: repo, Events: d.Events}
	leadH := &handler.LeadHandler{Customers: customerSvc, Svc: leadSvc}

	// Public site endpoints, authenticated by site key.
	r.Post("/leads", leadH.Capture)

	r.Route("/customers", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Post("/", customerH.Create)
		r.Get("/", customerH.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", customerH.Get)
			r.Put("/", customerH.Update)
			r.Put("/consent", customerH.SetConsent)
			r.Post("/google-account", customerH.LinkGoogleAccount)
			r.Get("/snippet", customerH.Snippet)

			r.Post("/trackings", trackingH.Create)
			r.Get("/trackings", trackingH.List)
			r.Delete("/trackings/{trackingID}", trackingH.Delete)
			r.Post("/health-check", trackingH.CheckHealth)

			r.Post("/batches", batchH.Submit)
			r.Get("/leads", leadH.List)
		})
	})

	r.Route("/batches", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Get("/", batchH.List)
		r.Get("/{id}", batchH.Get)
		r.Post("/{id}/cancel", batchH.Cancel)
	})

	ws := &handler.WSHandler{JWT: d.JWT, DB: d.DB, Hub: d.Hub, Log: d.Log}
	r.Get("/ws", ws.Serve)

	cron := &handler.CronHandler{Secret: d.Cfg.CronSecret, Dispatcher: d.Dispatcher, Log: d.Log}
	r.Post("/internal/cron/dispatch", cron.Dispatch)

	return r
}
