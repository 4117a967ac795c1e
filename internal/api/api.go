// Package api provides HTTP handlers and the main API server logic for
// Emergency Assistance.
//
// It exposes RESTful endpoints for authoring, validating, and searching
// diagnostic flows, for uploading and serving step images, and for running
// diagnostic sessions. The API integrates with the store, flow, images,
// genai, and notify modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/flow"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/genai"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/images"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/notify"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the default listening address for the API server
	DefaultAddr = ":8080"
	// DefaultReadHeaderTimeout bounds how long a client may take to send headers
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listening address, e.g. ":8080".
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listening address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// flowGenerator drafts a complete flow from a trigger keyword. Nil when the
// GenAI collaborator is disabled.
type flowGenerator interface {
	GenerateFlow(ctx context.Context, keyword string) (*models.Flow, error)
}

// Server bundles the flow store, image service, session manager, and GenAI
// collaborator behind the HTTP surface.
type Server struct {
	store     store.Store
	images    *images.Service
	sessions  *flow.SessionManager
	generator flowGenerator
	addr      string
}

// NewServer creates an API server over the given backends. generator may be
// nil; flow generation then degrades to a skeleton flow.
func NewServer(st store.Store, imgs *images.Service, sessions *flow.SessionManager, generator flowGenerator, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		store:     st,
		images:    imgs,
		sessions:  sessions,
		generator: generator,
		addr:      cfg.Addr,
	}
}

// Handler returns the routing handler for the API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flows", s.flowsHandler)
	mux.HandleFunc("/flows/", s.flowsSubtreeHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/sessions/", s.sessionSubtreeHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run wires the configured backends together and serves the API until the
// listener fails. The store backend is selected from the DSN: empty means
// file-backed, postgres:// style DSNs mean PostgreSQL, anything else SQLite.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, notifyOpts []notify.Option, imageOpts []images.Option, apiOpts []Option) error {
	st, err := openStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open flow store: %w", err)
	}
	defer st.Close()

	imgs, err := images.NewService(imageOpts...)
	if err != nil {
		return fmt.Errorf("failed to create image service: %w", err)
	}

	var generator flow.Generator
	var flowGen flowGenerator
	if genaiOpts != nil {
		client, err := genai.NewClient(genaiOpts...)
		if err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
		generator = client
		flowGen = client
	} else {
		slog.Warn("Run: GenAI collaborator disabled, sessions complete with fallback answers")
	}

	var notifier flow.Notifier
	if notifyOpts != nil {
		twilioNotifier, err := notify.NewTwilioNotifier(notifyOpts...)
		if err != nil {
			return fmt.Errorf("failed to create emergency notifier: %w", err)
		}
		notifier = twilioNotifier
	} else {
		slog.Warn("Run: emergency contact not configured, halts are logged only")
		notifier = notify.LogNotifier{}
	}

	sessions := flow.NewSessionManager(generator, notifier)
	server := NewServer(st, imgs, sessions, flowGen, apiOpts...)

	httpServer := &http.Server{
		Addr:              server.addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	slog.Info("Run: Emergency Assistance API listening", "addr", server.addr)
	return httpServer.ListenAndServe()
}

// openStore selects and opens the store backend for the configured DSN.
func openStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch dsnType := store.DetectDSNType(cfg.DSN); dsnType {
	case store.DSNTypePostgres:
		slog.Info("openStore: using PostgreSQL flow store")
		return store.NewPostgresStore(storeOpts...)
	case store.DSNTypeSQLite:
		slog.Info("openStore: using SQLite flow store", "dsn", cfg.DSN)
		return store.NewSQLiteStore(storeOpts...)
	default:
		slog.Info("openStore: using file flow store", "dir", cfg.Dir)
		return store.NewFileStore(storeOpts...)
	}
}
