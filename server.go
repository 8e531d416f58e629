package occupd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pkt.systems/occupd/internal/bus"
	"pkt.systems/occupd/internal/clock"
	"pkt.systems/occupd/internal/core"
	"pkt.systems/occupd/internal/httpapi"
	"pkt.systems/occupd/internal/lockmgr"
	"pkt.systems/occupd/internal/svcfields"
	"pkt.systems/occupd/internal/unitstore"
	"pkt.systems/occupd/internal/unitstore/memory"
	"pkt.systems/occupd/internal/unitstore/retry"
	"pkt.systems/occupd/internal/unitstore/sheet"
	"pkt.systems/pslog"
)

// Server wraps the HTTP server, the unit store, the event bus and the
// occupation coordinator.
type Server struct {
	cfg       Config
	logger    pslog.Logger
	store     unitstore.Store
	eventBus  bus.Bus
	coord     *core.Service
	handler   *httpapi.Handler
	httpSrv   *http.Server
	listener  net.Listener
	telemetry *telemetryBundle
	clock     clock.Clock

	mu        sync.Mutex
	shutdown  bool
	draining  bool
	readyOnce sync.Once
	readyCh   chan struct{}

	ownedStore bool
	ownedBus   bool
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger pslog.Logger
	Store  unitstore.Store
	Bus    bus.Bus
	Clock  clock.Clock
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithStore injects a pre-built unit store (useful for tests).
func WithStore(s unitstore.Store) Option {
	return func(o *options) {
		o.Store = s
	}
}

// WithBus injects a pre-built event bus.
func WithBus(b bus.Bus) Option {
	return func(o *options) {
		o.Bus = b
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// NewServer constructs an occupd server according to cfg.
// Example:
//
//	cfg := occupd.Config{Store: "mem://", Bus: "mem://", Listen: ":9650"}
//	srv, err := occupd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	serverClock := o.Clock
	if serverClock == nil {
		serverClock = clock.Real{}
	}

	store := o.Store
	ownedStore := false
	if store == nil {
		var err error
		store, err = openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		ownedStore = true
	}
	store = retry.Wrap(store, svcfields.WithSubsystem(logger, "store.retry"), serverClock, retry.Config{
		MaxAttempts: cfg.StoreRetryMaxAttempts,
		BaseDelay:   cfg.StoreRetryBaseDelay,
		MaxDelay:    cfg.StoreRetryMaxDelay,
		Multiplier:  cfg.StoreRetryMultiplier,
	})

	eventBus := o.Bus
	ownedBus := false
	if eventBus == nil {
		var err error
		eventBus, err = openBus(cfg, logger)
		if err != nil {
			if ownedStore {
				_ = store.Close()
			}
			return nil, err
		}
		ownedBus = true
	}

	telemetry, err := setupTelemetry(cfg, svcfields.WithSubsystem(logger, "telemetry"))
	if err != nil {
		if ownedStore {
			_ = store.Close()
		}
		if ownedBus {
			_ = eventBus.Close()
		}
		return nil, err
	}

	locks := lockmgr.New(lockmgr.Config{
		KV:     lockmgr.NewMemoryKV(serverClock),
		Clock:  serverClock,
		TTL:    cfg.LockTTL,
		Logger: svcfields.WithSubsystem(logger, "lockmgr"),
	})
	coord := core.New(core.Config{
		Store:            store,
		Locks:            locks,
		Bus:              eventBus,
		Logger:           svcfields.WithSubsystem(logger, "core"),
		Clock:            serverClock,
		Metrics:          core.NewMetrics(telemetry.Registry()),
		RepairCycleLimit: cfg.RepairCycleLimit,
	})

	srv := &Server{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		eventBus:   eventBus,
		coord:      coord,
		telemetry:  telemetry,
		clock:      serverClock,
		readyCh:    make(chan struct{}),
		ownedStore: ownedStore,
		ownedBus:   ownedBus,
	}
	srv.handler = httpapi.New(httpapi.Config{
		Core:         coord,
		Bus:          eventBus,
		Logger:       svcfields.WithSubsystem(logger, "httpapi"),
		Clock:        serverClock,
		JSONMaxBytes: cfg.JSONMaxBytes,
		SSEHeartbeat: cfg.SSEHeartbeat,
		Ready:        srv.accepting,
	})
	mux := http.NewServeMux()
	srv.handler.Routes(mux)
	srv.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

// openStore builds the unit store named by cfg.Store.
func openStore(cfg Config, logger pslog.Logger) (unitstore.Store, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	switch u.Scheme {
	case "mem":
		return memory.New(), nil
	case "sheet":
		spreadsheetID := u.Host
		if spreadsheetID == "" {
			spreadsheetID = strings.Trim(u.Path, "/")
		}
		if spreadsheetID == "" {
			return nil, errors.New("store: sheet:// dsn requires a spreadsheet id")
		}
		return sheet.New(context.Background(), sheet.Config{
			SpreadsheetID:   spreadsheetID,
			CredentialsFile: cfg.SheetCredentialsFile,
		})
	default:
		return nil, fmt.Errorf("store: unsupported scheme %q (supported: mem, sheet)", u.Scheme)
	}
}

// openBus builds the event bus named by cfg.Bus.
func openBus(cfg Config, logger pslog.Logger) (bus.Bus, error) {
	u, err := url.Parse(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("bus: parse dsn: %w", err)
	}
	switch u.Scheme {
	case "mem":
		return bus.NewMemory(svcfields.WithSubsystem(logger, "bus")), nil
	case "nats":
		subject := strings.Trim(u.Path, "/")
		return bus.NewNATS(bus.NATSConfig{
			URL:     cfg.Bus,
			Subject: subject,
			Name:    "occupd",
			Logger:  svcfields.WithSubsystem(logger, "bus.nats"),
		})
	default:
		return nil, fmt.Errorf("bus: unsupported scheme %q (supported: mem, nats)", u.Scheme)
	}
}

// Start listens and serves until Shutdown. It blocks; run it in a goroutine
// when embedding.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = listener.Close()
		return errors.New("server already shut down")
	}
	s.listener = listener
	s.mu.Unlock()

	if err := s.telemetry.Start(); err != nil {
		_ = listener.Close()
		return err
	}

	s.logger.Info("server.listening",
		"addr", listener.Addr().String(),
		"store", s.cfg.Store,
		"bus", s.cfg.Bus,
	)
	s.readyOnce.Do(func() { close(s.readyCh) })

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WaitReady blocks until the listener accepts connections or ctx expires.
func (s *Server) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr reports the bound listener address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.draining && !s.shutdown
}

// Shutdown drains in-flight requests, then closes the bus, the store and the
// metrics listener. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.draining = true
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	var firstErr error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if s.ownedBus {
		if err := s.eventBus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ownedStore {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Info("server.stopped")
	return firstErr
}
