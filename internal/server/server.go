package server

import (
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/opsengine/internal/attendance"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/dashboard"
	"github.com/wolfeidau/opsengine/internal/fanout"
	ophttp "github.com/wolfeidau/opsengine/internal/http"
	"github.com/wolfeidau/opsengine/internal/ledger"
	"github.com/wolfeidau/opsengine/internal/logger"
	"github.com/wolfeidau/opsengine/internal/notify"
	"github.com/wolfeidau/opsengine/internal/workflow"
)

// Services are the engine components behind the API.
type Services struct {
	Verifier      *auth.JWTVerifier
	Resolver      *auth.Resolver
	Ledger        *ledger.Ledger
	Workflow      *workflow.Workflow
	Notifications *notify.Center
	Attendance    *attendance.Register
	Dashboard     *dashboard.Aggregator
	Cascade       *fanout.Cascade
	Hub           *broadcast.Hub
}

// Config configures the HTTP surface.
type Config struct {
	// AllowedOrigins applies to both CORS and the websocket handshake.
	// Empty allows any origin.
	AllowedOrigins []string
	// MaxBodyBytes bounds request bodies. Default: 1MiB
	MaxBodyBytes int64
	// WebsocketWriteTimeout bounds a single push write. Default: 10s
	WebsocketWriteTimeout time.Duration
}

// Server wraps the HTTP API and push endpoint
type Server struct {
	svc Services
	cfg Config
}

// NewServer creates a server over the given services
func NewServer(svc Services, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{svc: svc, cfg: cfg}
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	authenticate := auth.Middleware(s.svc.Verifier, s.svc.Resolver, writeError)

	api := http.NewServeMux()
	s.routes(api)
	mux.Handle("/api/", ophttp.Chain(api,
		func(h http.Handler) http.Handler { return gzhttp.GzipHandler(h) },
		ophttp.MaxBodyBytes(s.cfg.MaxBodyBytes),
		authenticate,
	))

	// the push stream hijacks the connection so it stays out of gzip
	mux.Handle("GET /ws", authenticate(broadcast.WebsocketHandler(s.svc.Hub, broadcast.WebsocketConfig{
		AllowedOrigins: s.cfg.AllowedOrigins,
		WriteTimeout:   s.cfg.WebsocketWriteTimeout,
	})))

	corsOpts := cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(corsOpts.AllowedOrigins) == 0 {
		corsOpts.AllowedOrigins = []string{"*"}
		corsOpts.AllowCredentials = false
	}

	return ophttp.Chain(mux,
		ophttp.ClientIPMiddleware(),
		logger.Requests(log),
		cors.New(corsOpts).Handler,
	)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/me", s.me)
	mux.HandleFunc("GET /api/dashboard", s.getDashboard)
	mux.HandleFunc("GET /api/snapshots/{topic}", s.snapshot)

	mux.HandleFunc("GET /api/inventory", s.listItems)
	mux.HandleFunc("POST /api/inventory", s.createItem)
	mux.HandleFunc("POST /api/inventory/movements", s.applyMovement)
	mux.HandleFunc("GET /api/inventory/{id}/transactions", s.listTransactions)
	mux.HandleFunc("PUT /api/inventory/{id}/threshold", s.setThreshold)

	mux.HandleFunc("GET /api/attendance", s.listAttendance)
	mux.HandleFunc("POST /api/attendance", s.recordAttendance)

	mux.HandleFunc("GET /api/purchase-requests", s.listPurchaseRequests)
	mux.HandleFunc("POST /api/purchase-requests", s.submitPurchaseRequest)
	mux.HandleFunc("GET /api/purchase-requests/{id}", s.getPurchaseRequest)
	mux.HandleFunc("POST /api/purchase-requests/{id}/review", s.reviewPurchaseRequest)

	mux.HandleFunc("GET /api/notifications", s.listNotifications)
	mux.HandleFunc("POST /api/notifications/read-all", s.markAllNotificationsRead)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.markNotificationRead)

	mux.HandleFunc("PUT /api/roles/{id}/capabilities", s.updateRoleCapabilities)

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, notAllowed(r.Method, r.URL.Path))
	})
}
