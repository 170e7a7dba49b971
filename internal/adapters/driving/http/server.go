// Package http exposes the driving ports as a JSON API.
//
// Mutating endpoints read the acting identity from the X-Ratebook-Actor
// header. Domain errors map to status codes by kind; a blocked publish
// carries its preflight report in the error body.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driving"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// ActorHeader carries the identity recorded on audit entries.
const ActorHeader = "X-Ratebook-Actor"

// Deps are the services the API serves. Metrics and Subscribe are optional.
type Deps struct {
	Versions   driving.VersionService
	ChangeSets driving.ChangeSetService
	Rating     driving.RatingService

	// Metrics serves /metrics.
	Metrics http.Handler

	// Subscribe attaches an event handler and returns its cancel func.
	// It backs the /events stream.
	Subscribe func(handler func(domain.Event)) func()

	// Version is reported by /health.
	Version string

	// AllowedOrigins enables CORS for browser clients when set.
	AllowedOrigins []string
}

// Server implements the API handlers.
type Server struct {
	deps Deps
	now  func() time.Time
}

// NewHandler creates the HTTP handler for deps.
func NewHandler(deps Deps) http.Handler {
	s := &Server{deps: deps, now: time.Now}
	handler := s.routes()
	if len(deps.AllowedOrigins) == 0 {
		return handler
	}
	return cors.New(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", ActorHeader},
	}).Handler(handler)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	if s.deps.Subscribe != nil {
		r.Get("/events", s.streamEvents)
	}

	r.Route("/versions", func(r chi.Router) {
		r.Post("/", s.createVersion)
		r.Route("/{versionID}", func(r chi.Router) {
			r.Get("/", s.getVersion)
			r.Put("/payload", s.updateVersion)
			r.Put("/window", s.setWindow)
			r.Post("/clone", s.cloneVersion)
			r.Post("/transition", s.transitionVersion)
			r.Get("/history", s.versionHistory)
			r.Get("/diff/{otherID}", s.compareVersions)
		})
	})
	r.Get("/entities/{entityType}/{entityID}/versions", s.listVersions)

	r.Route("/changesets", func(r chi.Router) {
		r.Post("/", s.createChangeSet)
		r.Get("/", s.listChangeSets)
		r.Route("/{changeSetID}", func(r chi.Router) {
			r.Get("/", s.getChangeSet)
			r.Post("/items", s.addItem)
			r.Delete("/items/{versionID}", s.removeItem)
			r.Post("/submit", s.submitChangeSet)
			r.Post("/return", s.returnChangeSet)
			r.Post("/approve", s.approveChangeSet)
			r.Post("/reject", s.rejectChangeSet)
			r.Post("/publish", s.publishChangeSet)
			r.Post("/clone", s.cloneChangeSet)
			r.Get("/preflight", s.preflight)
			r.Get("/audit", s.auditTrail)
		})
	})

	r.Post("/rate", s.rate)
	r.Post("/rate/published", s.ratePublished)
	r.Post("/tables/resolve", s.resolveTable)

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.deps.Version})
}

// audit builds the audit context for a mutating request.
func (s *Server) audit(r *http.Request, reason string) domain.AuditContext {
	return domain.AuditContext{
		Actor:  r.Header.Get(ActorHeader),
		Now:    s.now().UTC(),
		Reason: reason,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.With(
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		).Debug("http request")
	})
}
