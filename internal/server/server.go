// Package server exposes the issue analyzer over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/andywolf/issue-assistant/internal/analysis"
	"github.com/andywolf/issue-assistant/internal/events"
	"github.com/andywolf/issue-assistant/internal/security"
)

var logger = log.WithField("package", "server")

// Analyzer is the pipeline behind POST /analyze_issue.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (json.RawMessage, error)
}

// Options configures a Server.
type Options struct {
	Addr string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// identify the client. Without it clients are keyed by socket peer.
	TrustedProxies  []string
	ShutdownTimeout time.Duration
	// Version is reported by /healthz.
	Version string
	// Events receives one entry per analyze request; nil records nothing.
	Events events.Recorder
}

// Server routes requests to the analyzer.
type Server struct {
	analyzer Analyzer
	opts     Options
	router   *mux.Router
}

// New builds a Server and its routes.
func New(analyzer Analyzer, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{analyzer: analyzer, opts: opts}
	s.initializeAPI()
	return s
}

func (s *Server) initializeAPI() {
	s.router = mux.NewRouter()

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	var analyze http.Handler = http.HandlerFunc(s.handleAnalyzeIssue)
	if s.opts.RateLimit > 0 {
		keyFunc, err := security.ClientIPFunc(s.opts.TrustedProxies)
		if err != nil {
			logger.WithError(err).Warn("Ignoring trusted proxies; keying clients by peer address")
			keyFunc = security.ClientIP
		}
		limiter := security.NewRateLimiter(s.opts.RateLimit, time.Minute)
		analyze = limiter.Middleware(keyFunc, func(w http.ResponseWriter, r *http.Request) {
			writeDetail(w, http.StatusTooManyRequests, "Too many requests")
			s.record(time.Now(), events.TypeRejected, analysis.Request{RequestID: RequestIDFromContext(r.Context())}, http.StatusTooManyRequests, "Too many requests", nil)
		})(analyze)
	}
	s.router.Handle("/analyze_issue", analyze).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

// Handler returns the router wrapped in middleware. The chain sits outside
// mux so unmatched paths and CORS preflights pass through it too.
func (s *Server) Handler() http.Handler {
	return withRequestID(withRecovery(withLogging(withCORS(s.router))))
}

// Run serves until ctx is cancelled, then drains in-flight requests for
// up to the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithField("addr", ln.Addr().String()).Info("Serving analyze API")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.WithError(err).Warn("Graceful shutdown failed")
			_ = srv.Close()
		}

		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving HTTP")
		}
		return nil
	}
}
