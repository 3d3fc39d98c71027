// Package api provides the HTTP server for TutorPipe.
//
// It exposes the tutoring session over a JSON REST surface, streams live speech capture
// over a WebSocket, and bootstraps the text chat channels that share the same sessions.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/genai"
	"github.com/BTreeMap/TutorPipe/internal/messaging"
	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/speech"
	"github.com/BTreeMap/TutorPipe/internal/store"
	"github.com/BTreeMap/TutorPipe/internal/tutor"
	"github.com/BTreeMap/TutorPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TutorPipe/internal/whatsapp"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server defaults.
const (
	DefaultServerAddress = ":8080"
	readTimeout          = 30 * time.Second
	idleTimeout          = 120 * time.Second
	shutdownTimeout      = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string        // HTTP listen address
	Provider string        // language service provider name
	WhatsApp bool          // enable the whatsmeow channel
	Twilio   bool          // enable the Twilio channel
	Capture  speech.Config // endpointing timings for live capture
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithProvider selects the language service backend ("gemini" or "openai").
func WithProvider(provider string) Option {
	return func(o *Opts) { o.Provider = provider }
}

// WithWhatsApp enables the whatsmeow chat channel.
func WithWhatsApp(enabled bool) Option {
	return func(o *Opts) { o.WhatsApp = enabled }
}

// WithTwilio enables the Twilio chat channel and its webhook route.
func WithTwilio(enabled bool) Option {
	return func(o *Opts) { o.Twilio = enabled }
}

// WithCaptureConfig overrides the live capture endpointing timings.
func WithCaptureConfig(cfg speech.Config) Option {
	return func(o *Opts) { o.Capture = cfg }
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{Addr: DefaultServerAddress, Capture: speech.DefaultConfig()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Server serves the tutoring API.
type Server struct {
	manager *tutor.Manager
	twilio  *messaging.TwilioService // nil when the Twilio channel is disabled
	capture speech.Config
}

// NewServer creates a server over manager.
func NewServer(manager *tutor.Manager, opts ...Option) *Server {
	cfg := applyOptions(opts)
	return &Server{manager: manager, capture: cfg.Capture}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/features", s.featuresHandler)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/session", s.sessionHandler)
			r.Put("/feature", s.featureHandler)
			r.Post("/messages", s.messageHandler)
			r.Post("/mistakes/{mistakeID}/explanation", s.explanationHandler)
			r.Get("/capture", s.captureHandler)
		})
	})
	if s.twilio != nil {
		r.Post("/webhooks/twilio", s.twilio.WebhookHandler)
	}
	return r
}

// Run wires every module together, serves until SIGINT or SIGTERM, and shuts down gracefully.
func Run(waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := applyOptions(apiOpts)
	slog.Debug("api.Run: options applied", "addr", cfg.Addr, "provider", cfg.Provider, "whatsapp", cfg.WhatsApp, "twilio", cfg.Twilio)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("api.Run: failed to close store", "error", err)
		}
	}()

	lang, err := genai.New(cfg.Provider, genaiOpts...)
	switch {
	case errors.Is(err, models.ErrConfigurationMissing):
		slog.Warn("api.Run: language service not configured, tutor turns will fail until a key is set", "error", err)
		lang = genai.Unconfigured{}
	case err != nil:
		return fmt.Errorf("failed to initialize language service: %w", err)
	}

	manager := tutor.NewManager(tutor.Deps{Language: lang, Store: st})
	srv := NewServer(manager, apiOpts...)

	var services []messaging.Service
	if cfg.WhatsApp {
		waClient, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
		}
		defer waClient.GetClient().Disconnect()
		services = append(services, messaging.NewWhatsAppService(waClient))
	}
	if cfg.Twilio {
		twClient, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialize Twilio client: %w", err)
		}
		srv.twilio = messaging.NewTwilioService(twClient)
		services = append(services, srv.twilio)
	}

	var relays sync.WaitGroup
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		relay := messaging.NewRelay(svc, manager)
		relays.Add(1)
		go func() {
			defer relays.Done()
			relay.Run(ctx)
		}()
	}

	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: 0, // capture sockets are long lived
		IdleTimeout:  idleTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api.Run: server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()
	slog.Info("api.Run: shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("api.Run: server forced to shutdown", "error", err)
	}
	for _, svc := range services {
		if err := svc.Stop(); err != nil {
			slog.Error("api.Run: failed to stop messaging service", "error", err)
		}
	}
	relays.Wait()
	slog.Info("api.Run: server stopped")
	return nil
}
