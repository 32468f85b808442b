package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/bunqsession-go/internal/infra/buildinfo"
	"github.com/yndnr/bunqsession-go/internal/infra/confloader"
	"github.com/yndnr/bunqsession-go/internal/infra/shutdown"
	"github.com/yndnr/bunqsession-go/internal/telemetry/logger"
	"github.com/yndnr/bunqsession-go/internal/telemetry/metric"
	"github.com/yndnr/bunqsession-go/pkg/config"
	"github.com/yndnr/bunqsession-go/pkg/crypto/symmetric"
	"github.com/yndnr/bunqsession-go/pkg/session"
	"github.com/yndnr/bunqsession-go/pkg/storage"
)

// closeTimeout bounds the cleanup hooks run by Close.
const closeTimeout = 10 * time.Second

// ErrAlreadyWatching is returned by WatchConfig when a watcher runs.
var ErrAlreadyWatching = errors.New("client: config already watched")

// Client owns a session and the resources built for it.
type Client struct {
	cfg     *config.Config
	logger  logger.Logger
	store   storage.Store
	metrics *metric.Registry
	session *session.Session
	closer  *shutdown.Handler

	mu      sync.Mutex
	watcher *confloader.Watcher
	ready   bool
}

// Open verifies cfg, builds the client and runs Setup on its session.
// On error every resource opened so far is released.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("client: invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: o.logOutput,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("configuration loaded", "config", config.Sanitize(cfg))

	c := &Client{
		cfg:    cfg,
		logger: log,
		closer: shutdown.NewHandler(closeTimeout),
	}

	if err := c.init(ctx, &o); err != nil {
		if cerr := c.closer.Shutdown(context.Background()); cerr != nil {
			log.Warn("cleanup after failed open", "error", cerr)
		}
		return nil, err
	}
	return c, nil
}

func (c *Client) init(ctx context.Context, o *options) error {
	c.store = o.store
	if c.store == nil {
		engine, err := storage.Open(ctx, c.cfg.Storage, c.logger.Slog())
		if err != nil {
			return fmt.Errorf("client: open storage: %w", err)
		}
		c.closer.OnShutdown(func(context.Context) error { return engine.Close() })
		c.store = engine
	}

	sessOpts := []session.Option{
		session.WithLogger(c.logger.With("component", "session")),
		session.WithKeyBits(c.cfg.KeyBits),
	}
	if c.cfg.Cipher != "" {
		sessOpts = append(sessOpts, session.WithCipherType(symmetric.CipherType(c.cfg.Cipher)))
	}
	if c.cfg.Metrics.Enabled {
		c.initMetrics(o)
		sessOpts = append(sessOpts, session.WithMetrics(c.metrics))
	}
	sessOpts = append(sessOpts, o.session...)

	c.session = session.New(c.store, sessOpts...)
	if c.metrics != nil {
		if err := c.metrics.Register(metric.NewCollector(c.snapshot, stateNames())); err != nil {
			return fmt.Errorf("client: register session collector: %w", err)
		}
	}

	key, err := c.cfg.EncryptionKeyBytes()
	if err != nil {
		return err
	}
	ready, err := c.session.Setup(ctx, session.SetupParams{
		APIKey:        c.cfg.APIKey,
		AllowedIPs:    c.cfg.AllowedIPs,
		Environment:   c.cfg.Environment,
		EncryptionKey: key,
		KeyBits:       c.cfg.KeyBits,
	})
	if err != nil {
		return fmt.Errorf("client: setup: %w", err)
	}
	c.ready = ready

	c.logger.Info("session opened",
		"version", buildinfo.Get().Version,
		"environment", c.cfg.Environment,
		"storage", c.cfg.Storage.Backend,
		"state", c.session.State().String(),
		"load", c.session.LastLoad().String(),
	)
	return nil
}

func (c *Client) initMetrics(o *options) {
	if o.registerer != nil {
		c.metrics = metric.NewRegistryWith(o.registerer)
	} else {
		c.metrics = metric.NewRegistry()
	}
	if b, ok := c.store.(*storage.BadgerStore); ok && o.store == nil {
		b.RegisterMetrics(c.metrics.Registerer())
	}
}

func (c *Client) snapshot() metric.Snapshot {
	snap := metric.Snapshot{State: c.session.State().String()}
	if s, ok := c.session.APISession(); ok {
		snap.ExpiresAt = s.ExpiresAt
	}
	return snap
}

func stateNames() []string {
	states := []session.State{
		session.StateNoKeypair,
		session.StateKeypairReady,
		session.StateInstalled,
		session.StateDeviceRegistered,
		session.StateSessionActive,
		session.StateSessionExpired,
	}
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = st.String()
	}
	return names
}

// Session returns the managed session.
func (c *Client) Session() *session.Session {
	return c.session
}

// Ready reports whether Setup ran with an encryption key and a keypair
// is available.
func (c *Client) Ready() bool {
	return c.ready
}

// Logger returns the client logger. Attributes with credential or token
// names are redacted.
func (c *Client) Logger() *slog.Logger {
	return c.logger.Slog()
}

// Gatherer returns the gatherer holding the client metrics, or nil when
// metrics are disabled or the registerer cannot be gathered.
func (c *Client) Gatherer() prometheus.Gatherer {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Gatherer()
}

// MetricsHandler serves the client metrics in the Prometheus exposition
// format. It returns nil when metrics are disabled.
func (c *Client) MetricsHandler() http.Handler {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Handler()
}

// Handshake completes the missing handshake steps through t using the
// configured device description. A request ID set with WithRequestID is
// added to the log lines.
func (c *Client) Handshake(ctx context.Context, t session.Transport) error {
	if !c.ready {
		return fmt.Errorf("client: handshake: %w", session.ErrNoEncryptionKey)
	}
	log := logger.L(logger.WithLogger(ctx, c.logger))

	err := c.session.Handshake(ctx, t, c.cfg.DeviceDescription)
	if err != nil {
		log.Warn("handshake failed", "error", err)
		return err
	}
	log.Info("handshake complete", "state", c.session.State().String())
	return nil
}

// WatchConfig reloads the log level whenever the file at path changes.
// Other settings need a new client.
func (c *Client) WatchConfig(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return ErrAlreadyWatching
	}

	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(c.logger.Slog()))
	if err != nil {
		return fmt.Errorf("client: watch config: %w", err)
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return fmt.Errorf("client: watch config: %w", err)
	}
	w.OnChange(func(string) { c.reload(path) })
	w.StartAsync()

	c.watcher = w
	c.closer.OnShutdown(func(context.Context) error { return w.Stop() })
	return nil
}

func (c *Client) reload(path string) {
	cfg, err := config.Load(path, nil)
	if err != nil {
		c.logger.Warn("config reload failed", "path", path, "error", err)
		return
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		c.logger.Warn("config reload failed", "path", path, "error", err)
		return
	}
	c.logger.Info("log level reloaded", "level", logger.GetLevel())
}

// Close stops the config watcher and closes the storage engine opened by
// Open. A store passed with WithStore is left open.
func (c *Client) Close() error {
	return c.closer.Shutdown(context.Background())
}
