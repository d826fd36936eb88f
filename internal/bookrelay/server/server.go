// Package server exposes booking sessions over HTTP. It serves the session API, the
// routes of the original booking front end, and version, readiness and metrics
// endpoints.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/metrics"
	"github.com/bookrelay/bookrelay/internal/bookrelay/orchestrator"
	"github.com/bookrelay/bookrelay/internal/bookrelay/worker"
	"github.com/bookrelay/bookrelay/internal/common/httpx"
	"github.com/bookrelay/bookrelay/internal/common/logtrace"
	"github.com/bookrelay/bookrelay/internal/common/middleware"
)

// BookingServer routes HTTP requests to the orchestrator.
type BookingServer struct {
	Router  *chi.Mux
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
}

// CreateNewServer creates a server for orch. m may be nil, in which case no
// metrics are recorded or served.
func CreateNewServer(orch *orchestrator.Orchestrator, m *metrics.Metrics) (*BookingServer, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	return &BookingServer{
		Router:  chi.NewRouter(),
		orch:    orch,
		metrics: m,
	}, nil
}

// MountHandlers sets up middleware and every route.
func (s *BookingServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	if s.metrics != nil {
		s.Router.Use(s.metrics.Middleware)
	}
	if config.Config().HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.Router.Use(checkApiVersion)
	s.mountResourceHandlers(s.Router)
	if logtrace.IsTraceEnabled() {
		fmt.Println("Routes in bookrelay router")
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

// requestTimeout bounds every session request. Submitting an answer may wait for
// the booking until the session expires, so the bound follows the session TTL.
func requestTimeout() time.Duration {
	return config.Config().Session.GetTTL() + 5*time.Second
}

func (s *BookingServer) mountResourceHandlers(r chi.Router) {
	api := &sessionAPI{orch: s.orch}
	r.Group(func(r chi.Router) {
		r.Use(middleware.SetTimeout(requestTimeout()))
		r.Route("/sessions", api.router)
		r.Route("/api", api.legacyRouter)
		r.Method(http.MethodGet, "/captchas/{file}", httpx.WrapHttpRsp(api.getLegacyCaptcha))
	})
	r.Get("/version", s.getVersion)
	r.Get("/ready", s.getReadiness)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// GetVersionRsp is the body of /version.
type GetVersionRsp struct {
	ServerVersion  string `json:"serverVersion"`
	ApiVersion     string `json:"apiVersion"`
	WorkerProtocol string `json:"workerProtocol"`
}

func (s *BookingServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, &GetVersionRsp{
		ServerVersion:  "Bookrelay Server: " + Version,
		ApiVersion:     ApiVersion,
		WorkerProtocol: worker.ProtocolVersion,
	})
}

func (s *BookingServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	if s.orch.Closing() {
		httpx.SendJsonRsp(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
			"status": "shutting down",
		})
		return
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": s.orch.Len(),
	})
}

// HandleCORS provides CORS middleware for the browser front end.
func (s *BookingServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", ApiVersionHeader},
		ExposedHeaders:   []string{"Location", middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}

// checkApiVersion rejects clients that expect an incompatible API version.
func checkApiVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get(ApiVersionHeader); v != "" && !IsApiVersionCompatible(v) {
			log.Ctx(r.Context()).Info().Str("client_version", v).Msg("incompatible api version")
			httpx.ErrInvalidRequest("unsupported api version " + v + ", server speaks " + ApiVersion).Send(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
