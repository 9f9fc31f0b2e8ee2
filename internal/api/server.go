package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"clubhall/internal/booking"
	"clubhall/internal/service"
)

// Options configures the HTTP server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimitRPS float64
	RateBurst    int
	// TrustedProxies may set X-Forwarded-For; other peers are keyed by their own address.
	TrustedProxies []netip.Prefix
	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

// HTTPServer exposes the hall booking REST API.
type HTTPServer struct {
	server   *http.Server
	mux      *http.ServeMux
	svc      *service.BookingService
	exporter Exporter
	ready    func(ctx context.Context) error
	trusted  []netip.Prefix
	logger   *zerolog.Logger
}

func NewHTTPServer(opts Options, svc *service.BookingService, exporter Exporter, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	s := &HTTPServer{
		mux:      http.NewServeMux(),
		svc:      svc,
		exporter: exporter,
		ready:    opts.Ready,
		trusted:  opts.TrustedProxies,
		logger:   logger,
	}
	s.routes()

	limiter := newClientLimiter(opts.RateLimitRPS, opts.RateBurst)
	handler := s.requestID(s.logRequests(s.rateLimit(limiter, s.mux)))

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
	}
	return s
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/halls", s.handleHalls)
	s.mux.HandleFunc("/halls/hall-booking", s.handleBooking)
	s.mux.HandleFunc("/halls/hall-booking/list", s.handleListBookings)
	s.mux.HandleFunc("/halls/hall-booking/export", s.handleExport)
	s.mux.HandleFunc("/halls/get-booked-halls-dates", s.handleBookedDates)
	s.mux.HandleFunc("/halls/available-dates", s.handleAvailableDates)
	s.mux.HandleFunc("/halls/available-slots", s.handleAvailableSlots)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleReadyz)
}

// Handler returns the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until the server is shut down.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// statusFor maps booking error kinds to HTTP status codes.
func statusFor(kind booking.Kind) int {
	switch kind {
	case booking.KindValidation:
		return http.StatusBadRequest
	case booking.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case booking.KindConflict, booking.KindInvalidState:
		return http.StatusConflict
	case booking.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var be *booking.Error
	if errors.As(err, &be) {
		resp := ErrorResponse{Error: be.Msg, Code: string(be.Kind)}
		if d := be.Details(); len(d) > 0 {
			resp.Details = d
		}
		writeJSON(w, statusFor(be.Kind), resp)
		return
	}
	s.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestIDFrom(r.Context())).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}
