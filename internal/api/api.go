// Package api exposes the HTTP surface: the Twilio webhook, billing
// endpoints, and a health check.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/iqcalorie/caloriebot/internal/billing"
	"github.com/iqcalorie/caloriebot/internal/flow"
	"github.com/iqcalorie/caloriebot/internal/messaging"
	"github.com/iqcalorie/caloriebot/internal/util"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 120 * time.Second // image turns answer fast; sync turns can take two model calls
	shutdownTimeout = 10 * time.Second

	maxWebhookBody = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	AllowedOrigins []string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedOrigins sets the CORS allow-list for the billing endpoints.
func WithAllowedOrigins(origins []string) Option {
	return func(o *Opts) { o.AllowedOrigins = origins }
}

// Server is the HTTP front of the bot.
type Server struct {
	router  chi.Router
	addr    string
	billing *billing.Service
	abuse   *flow.AbuseTracker
	httpSrv *http.Server
}

// NewServer assembles the router around the webhook handler and the billing
// service.
func NewServer(webhook *messaging.WebhookHandler, billingSvc *billing.Service, abuse *flow.AbuseTracker, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080", AllowedOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{addr: cfg.Addr, billing: billingSvc, abuse: abuse}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Stripe-Signature"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleHealth)
	r.Post("/webhook", webhook.ServeHTTP)
	r.Route("/billing", func(r chi.Router) {
		r.Post("/checkout", s.handleCreateCheckout)
		r.Post("/webhook", s.handleStripeWebhook)
		r.Post("/complete-setup", s.handleCompleteSetup)
	})
	r.Get("/internal/abuse/{sender}", s.handleAbuseCount)

	s.router = r
	return s
}

// Handler returns the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CheckoutKey string `json:"checkout_key"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.CheckoutKey == "" {
		req.CheckoutKey = util.GenerateCheckoutKey()
	}

	url, err := s.billing.CreateCheckoutSession(req.CheckoutKey)
	if err != nil {
		slog.Error("API checkout creation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create checkout session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable payload"})
		return
	}

	if err := s.billing.HandleWebhookEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		slog.Error("API stripe webhook failed", "error", err)
		// Non-2xx makes Stripe retry, which is what we want for transient
		// store failures during setup.
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event not processed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}

// handleCompleteSetup finalizes onboarding for a checkout session directly,
// covering deployments where the success redirect lands before the Stripe
// webhook is delivered.
func (s *Server) handleCompleteSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}

	if err := s.billing.CompleteUserSetup(r.Context(), req.SessionID); err != nil {
		slog.Error("API setup completion failed", "error", err, "session_id", req.SessionID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to complete setup"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAbuseCount(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "sender")
	writeJSON(w, http.StatusOK, map[string]any{
		"sender": sender,
		"count":  s.abuse.Count(r.Context(), sender),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("API failed to encode response", "error", err)
	}
}
