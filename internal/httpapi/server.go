package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/apikeystore"
	"github.com/aibtcdev/sponsor-relay/internal/config"
	"github.com/aibtcdev/sponsor-relay/internal/facilitator"
	"github.com/aibtcdev/sponsor-relay/internal/feeservice"
	"github.com/aibtcdev/sponsor-relay/internal/metrics"
	"github.com/aibtcdev/sponsor-relay/internal/noncecoord"
	"github.com/aibtcdev/sponsor-relay/internal/ratelimiter"
	"github.com/aibtcdev/sponsor-relay/internal/receiptstore"
	"github.com/aibtcdev/sponsor-relay/internal/sponsorpipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server holds the collaborators the HTTP handlers call into.
type Server struct {
	pipeline    *sponsorpipeline.Pipeline
	facilitator *facilitator.Facilitator
	fees        *feeservice.Service
	receipts    *receiptstore.Store
	apiKeys     *apikeystore.Store
	nonces      *noncecoord.Coordinator
	httpClient  *http.Client
	network     string
	adminToken  string
	log         zerolog.Logger
}

func NewServer(
	pipeline *sponsorpipeline.Pipeline,
	fac *facilitator.Facilitator,
	fees *feeservice.Service,
	receipts *receiptstore.Store,
	apiKeys *apikeystore.Store,
	nonces *noncecoord.Coordinator,
	network, adminToken string,
	log zerolog.Logger,
) *Server {
	return &Server{
		pipeline: pipeline, facilitator: fac, fees: fees, receipts: receipts,
		apiKeys: apiKeys, nonces: nonces,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		network:    network, adminToken: adminToken,
		log: log.With().Str("component", "httpapi").Logger(),
	}
}

// Router builds the mux and wraps it in the global middleware chain.
func (s *Server) Router(cfg *config.Config, limiter *ratelimiter.Limiter, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /relay", s.HandleRelay)
	mux.HandleFunc("POST /sponsor", s.HandleSponsor)
	mux.HandleFunc("POST /settle", s.HandleSettle)
	mux.HandleFunc("POST /verify", s.HandleVerify)
	mux.HandleFunc("GET /supported", s.HandleSupported)
	mux.HandleFunc("GET /fees", s.HandleFees)
	mux.HandleFunc("GET /verify/{receiptId}", func(w http.ResponseWriter, r *http.Request) {
		s.HandleVerifyReceipt(w, r, r.PathValue("receiptId"))
	})
	mux.HandleFunc("POST /access", s.HandleAccess)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/reset", s.HandleAdminReset)
	admin.HandleFunc("POST /admin/clamp", s.HandleAdminSetClamp)
	mux.Handle("/admin/", Chain(admin, s.requireAdminToken()))

	return Chain(
		mux,
		Recovery(s.log),
		RequestID(),
		Logging(s.log),
		Metrics(m),
		CORS(cfg.CORS),
		s.perAgentRateLimit(limiter),
	)
}

// HandleHealth serves GET /health: a liveness probe, no auth, no
// dependency checks beyond process uptime.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// perAgentRateLimit applies the sender rate limiter ahead of the pipeline's
// own per-agent check, using the request's remote address as a coarse key
// for endpoints that run before the transaction body (and its real agent
// address) is known.
func (s *Server) perAgentRateLimit(limiter *ratelimiter.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.RemoteAddr) {
				retry := limiter.RetryAfter(r.RemoteAddr)
				w.Header().Set("Retry-After", formatSeconds(retry))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func formatSeconds(d time.Duration) string {
	seconds := int(d.Seconds() + 0.999)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func (s *Server) requireAdminToken() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.adminToken == "" || r.Header.Get("Authorization") != "Bearer "+s.adminToken {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid admin token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
