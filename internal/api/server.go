package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rowanvale/heliograph/internal/audit"
	"github.com/rowanvale/heliograph/internal/entry"
	"github.com/rowanvale/heliograph/internal/flow"
	"github.com/rowanvale/heliograph/internal/infrastructure/config"
	"github.com/rowanvale/heliograph/internal/infrastructure/database"
	"github.com/rowanvale/heliograph/internal/infrastructure/logging"
	"github.com/rowanvale/heliograph/internal/infrastructure/mqtt"
	"github.com/rowanvale/heliograph/internal/infrastructure/tsdb"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests before cutting remaining connections.
const gracefulShutdownTimeout = 10 * time.Second

// EntryStore is the slice of the entry store the API depends on.
// *entry.Store satisfies it; tests substitute fakes.
type EntryStore interface {
	List(ctx context.Context) ([]entry.Entry, error)
	Get(ctx context.Context, id string) (*entry.Entry, error)
	Delete(ctx context.Context, id string) error
	Reload(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*entry.Stats, error)
}

// PollerStats reports poll-coordinator state for the metrics endpoint.
// This is an interface to avoid a dependency on the coordinator package.
type PollerStats interface {
	WorkerCount() int
}

// Deps carries everything New needs. Config, Logger, Entries and Flows
// are mandatory.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Entries  EntryStore
	Flows    *flow.Manager
	Audit    audit.Repository
	Version  string

	// Optional dependencies. History queries return 503 without the TSDB
	// client; the others only surface in the metrics endpoint.
	TSDB   *tsdb.Client
	MQTT   *mqtt.Client
	DB     *database.DB
	Poller PollerStats

	// ExternalHub, if set, is used instead of creating a hub. The poll
	// coordinator broadcasts entry events through it.
	ExternalHub *Hub
}

// Server owns the HTTP listener, the route table, and the WebSocket hub.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	entries   EntryStore
	flows     *flow.Manager
	auditRepo audit.Repository
	auditCh   chan *audit.AuditLog
	tsdb      *tsdb.Client
	mqtt      *mqtt.Client
	db        *database.DB
	poller    PollerStats
	version   string
	startTime time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool // true if hub was injected externally
	tickets     *ticketStore
	cancel      context.CancelFunc // stops background goroutines on Close()
}

// New wires a server from deps. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("api server needs a logger")
	}
	if deps.Entries == nil {
		return nil, fmt.Errorf("api server needs an entry store")
	}
	if deps.Flows == nil {
		return nil, fmt.Errorf("api server needs a flow manager")
	}
	// TSDB, MQTT, DB and the poller are optional. The endpoints that need
	// them degrade to 503 or omit their metrics sections.

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		entries:   deps.Entries,
		flows:     deps.Flows,
		auditRepo: deps.Audit,
		tsdb:      deps.TSDB,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		poller:    deps.Poller,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}

	if deps.Audit != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, creating it if necessary.
// Callers that need the hub before Start() (the coordinator broadcasts
// through it) use this accessor.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start spins up the hub, the ticket janitor and the audit drain, then
// launches the listener in its own goroutine. Start returns immediately;
// a listen failure (port taken, bad cert paths) lands in the log.
func (s *Server) Start(ctx context.Context) error {
	// Background goroutines hang off a derived context so Close can stop
	// them without touching the caller's.
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	go s.tickets.cleanLoop(srvCtx)

	// Audit writes run serially off the request path.
	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	go s.serve()
	return nil
}

// serve runs the listener until Shutdown. ErrServerClosed is the normal
// exit and stays out of the log.
func (s *Server) serve() {
	var err error
	if s.cfg.TLS.Enabled {
		s.logger.Info("api listening with TLS",
			"address", s.server.Addr,
			"cert", s.cfg.TLS.CertFile,
		)
		err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		s.logger.Info("api listening", "address", s.server.Addr)
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("api listener stopped", "error", err)
	}
}

// Close stops the background goroutines and drains in-flight requests,
// waiting at most gracefulShutdownTimeout before giving up on them.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("api shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

// HealthCheck reports whether the listener has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api listener not started")
	}

	return nil
}
