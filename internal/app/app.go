package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"vtt/client/internal/combat"
	"vtt/client/internal/grid"
	"vtt/client/internal/movement"
	"vtt/client/internal/net/ws"
	"vtt/client/internal/reconcile"
	"vtt/client/internal/relay"
	"vtt/client/internal/session"
	"vtt/client/internal/telemetry"
	"vtt/client/internal/tokens"
	"vtt/client/logging"
	loggingSinks "vtt/client/logging/sinks"
)

func loggerFor(cfg Config) (telemetry.Logger, *log.Logger) {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}
	return telemetryLogger, fallbackLogger
}

// newRouter builds the event router with a console sink and, when a path
// is configured, a JSON lines sink.
func newRouter(cfg Config, fallback *log.Logger) (*logging.Router, func() error, error) {
	logConfig := logging.DefaultConfig()
	logConfig.DebugCategories = cfg.LogDebugCategories
	sinks := []logging.NamedSink{{Name: "console", Sink: loggingSinks.NewConsoleSink(fallback.Writer())}}

	closeFile := func() error { return nil }
	if cfg.LogJSONPath != "" {
		file, err := os.OpenFile(cfg.LogJSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open json log: %w", err)
		}
		logConfig.EnableSink("json")
		logConfig.JSON.FilePath = cfg.LogJSONPath
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval)})
		closeFile = file.Close
	}
	return logging.NewRouter(logging.SystemClock{}, logConfig, sinks), closeFile, nil
}

// Client is a headless tabletop client joined to one relay room.
type Client struct {
	Config     Config
	Metrics    *logging.Metrics
	Reconciler *reconcile.Reconciler
	Store      *tokens.Store
	Ledger     *movement.Ledger
	Tracker    *combat.Tracker
	Session    *session.Session
	Bridge     *ws.Bridge
}

// NewClient dials the relay and wires the movement pipeline around the
// connection.
func NewClient(ctx context.Context, cfg Config, publisher logging.Publisher, catalog tokens.CreatureCatalog) (*Client, error) {
	logger, _ := loggerFor(cfg)
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	if cfg.PlayerID == "" {
		cfg.PlayerID = uuid.NewString()
	}
	geometry := grid.New(cfg.GridSize)
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	publisher = logging.WithFields(publisher, map[string]any{"player": cfg.PlayerID})

	metrics := &logging.Metrics{}
	bridge, err := ws.Dial(ctx, ws.Config{
		URL:       cfg.RelayURL,
		Room:      cfg.Room,
		PlayerID:  cfg.PlayerID,
		Logger:    logger,
		Publisher: publisher,
		Metrics:   telemetry.WrapMetrics(metrics),
	})
	if err != nil {
		return nil, err
	}

	reconciler := reconcile.New(reconcile.Config{Window: cfg.EchoWindow})
	store := tokens.NewStore(tokens.Config{
		Reconciler: reconciler,
		Bridge:     bridge,
		Publisher:  publisher,
		Metrics:    telemetry.WrapMetrics(metrics),
	})
	bridge.Attach(store)

	ledger := movement.NewLedger()
	tracker := combat.NewTracker(publisher)
	sess, err := session.New(session.Config{
		Store:       store,
		Ledger:      ledger,
		Validator:   movement.NewValidator(ledger, publisher),
		Combat:      tracker,
		Catalog:     catalog,
		Geometry:    geometry,
		FeetPerTile: cfg.FeetPerTile,
		Publisher:   publisher,
	})
	if err != nil {
		bridge.Close()
		return nil, err
	}

	return &Client{
		Config:     cfg,
		Metrics:    metrics,
		Reconciler: reconciler,
		Store:      store,
		Ledger:     ledger,
		Tracker:    tracker,
		Session:    sess,
		Bridge:     bridge,
	}, nil
}

// Run reads relay frames until ctx ends, sweeping expired echo markers and
// publishing reconciler counters on the way.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.Bridge.Run(ctx) }()

	interval := c.Reconciler.Window() * 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			c.Reconciler.Dispose()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-ticker.C:
			c.Reconciler.Sweep()
			stats := c.Reconciler.Stats()
			c.Metrics.TelemetryStore(telemetry.MetricEchoMarked, stats.Marked)
		}
	}
}

func (c *Client) Close() error {
	return c.Bridge.Close()
}

// RunClient starts a headless client from environment configuration.
func RunClient(ctx context.Context, cfg Config) error {
	logger, fallback := loggerFor(cfg)
	cfg = ApplyEnv(cfg, logger)

	router, closeFile, err := newRouter(cfg, fallback)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
		closeFile()
	}()

	c, err := NewClient(ctx, cfg, router, nil)
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer c.Close()
	logger.Printf("joined room %s at %s as %s", c.Config.Room, c.Config.RelayURL, c.Config.PlayerID)
	return c.Run(ctx)
}

// RunRelay serves the room relay until ctx ends.
func RunRelay(ctx context.Context, cfg Config) error {
	logger, fallback := loggerFor(cfg)
	cfg = ApplyEnv(cfg, logger)

	router, closeFile, err := newRouter(cfg, fallback)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
		closeFile()
	}()

	var store relay.SnapshotStore
	if cfg.RelayDB != "" {
		sqlite, err := relay.OpenSQLite(cfg.RelayDB)
		if err != nil {
			return err
		}
		defer sqlite.Close()
		store = sqlite
	}

	metrics := &logging.Metrics{}
	hub := relay.NewServer(relay.Config{
		Store:     store,
		Logger:    logger,
		Publisher: router,
		Metrics:   telemetry.WrapMetrics(metrics),
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handle)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.RelayAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("relay listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay failed: %w", err)
	}
	return nil
}
