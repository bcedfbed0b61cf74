package stubauth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quizwell/authbridge/pkg/httpx"
	"github.com/quizwell/authbridge/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	service   *Service
	devSecret string
	startTime time.Time
	logger    *slog.Logger
}

func NewRouter(service *Service, devSecret string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:       http.NewServeMux(),
		service:   service,
		devSecret: devSecret,
		startTime: time.Now(),
		logger:    logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	// POST /public/auth/token - generous limit; bursts of page loads each
	// mint their own guest token
	r.Mux.Handle("POST /public/auth/token",
		httpx.Chain(&GuestTokenHandler{Service: r.service},
			httpx.RateLimitByIP(httpx.PublicLimit),
		))

	// POST /v1/auth/verify - called once per protected page render
	r.Mux.Handle("POST /v1/auth/verify",
		httpx.Chain(&VerifyHandler{Service: r.service},
			httpx.RateLimitByIP(httpx.ModerateLimit),
		))

	// POST /v1/auth/refresh - strict limit on credential-issuing endpoint
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(&RefreshHandler{Service: r.service},
			httpx.RateLimitByIP(httpx.StrictLimit),
		))

	// POST /v1/auth/seed - dev/test only, guarded by the dev secret
	r.Mux.Handle("POST /v1/auth/seed",
		httpx.Chain(&SeedHandler{Service: r.service, DevSecret: r.devSecret},
			httpx.RateLimitByIP(httpx.StrictLimit),
		))

	r.Mux.HandleFunc("GET /livez", r.handleLivez)
}

func (r *Router) handleLivez(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(r.startTime).Truncate(time.Second).String(),
	})
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}
