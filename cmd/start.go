package cmd

import (
	"context"
	cryptotls "crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/api"
	"grimm.is/aclsync/internal/attach"
	"grimm.is/aclsync/internal/brand"
	"grimm.is/aclsync/internal/config"
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/health"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/metrics"
	"grimm.is/aclsync/internal/network"
	"grimm.is/aclsync/internal/reconcile"
	"grimm.is/aclsync/internal/rulegroup"
	"grimm.is/aclsync/internal/state"
	certs "grimm.is/aclsync/internal/tls"
)

// Daemon holds the wired components of a running instance.
type Daemon struct {
	configFile string
	cfg        *config.Config
	log        *logging.Logger

	metrics  *metrics.Registry
	hw       *fal.Instrumented
	resolver *gpc.StaticResolver
	hub      *events.Hub
	points   *attach.Registry
	groups   *rulegroup.Store
	engine   *acl.Engine
	journal  *state.Journal
	rc       *reconcile.Reconciler
	links    *network.Handler
	health   *health.Checker
	api      *api.Server
	monitor  func(ctx context.Context) error

	closers []func()
}

// NewDaemon wires every component for cfg. Nothing is programmed until
// Run applies the configuration.
func NewDaemon(configFile string, cfg *config.Config, logger *logging.Logger) (_ *Daemon, err error) {
	d := &Daemon{
		configFile: configFile,
		cfg:        cfg,
		log:        logger,
		metrics:    metrics.New(),
		resolver:   gpc.NewStaticResolver(nil),
		hub:        events.NewHub(),
		groups:     rulegroup.NewStore(),
		health:     health.NewChecker(5 * time.Second),
	}
	d.closers = append(d.closers, d.hub.Close)
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	var backend fal.Backend
	switch cfg.Backend {
	case config.BackendMemory:
		backend = fal.NewRecorder()
	default:
		nft, err := fal.OpenNFTBackend(cfg.NFTTable)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindHardware, "failed to open nftables table %s", cfg.NFTTable)
		}
		d.closers = append(d.closers, func() { nft.Close() })
		backend = nft
		d.health.Register("nftables", health.CheckNftables(cfg.NFTTable))
	}
	d.hw = fal.Instrument(backend, d.metrics)

	d.points = attach.NewRegistry(d.hub)
	store := gpc.NewStore(d.hw, d.resolver, logger)
	d.engine, err = acl.New(acl.Config{
		Store:      store,
		Hub:        d.hub,
		RuleGroups: d.groups,
		Logger:     logger,
		Metrics:    d.metrics,
	})
	if err != nil {
		return nil, err
	}
	d.engine.Init()
	d.closers = append(d.closers, d.engine.Close)

	statePath := cfg.StatePath
	if statePath == "" {
		statePath = ":memory:"
	}
	d.journal, err = state.Open(state.DefaultOptions(statePath))
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "failed to open journal %s", statePath)
	}
	d.closers = append(d.closers, func() { d.journal.Close() })
	d.health.Register("transactions", health.CheckTransactions(d.journal))

	d.rc, err = reconcile.New(reconcile.Options{
		Points:     d.points,
		RuleGroups: d.groups,
		Engine:     d.engine,
		Journal:    d.journal,
		Calls:      d.hw,
		Metrics:    d.metrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	var offload network.OffloadChecker
	if cfg.RequireOffload {
		eo, err := network.NewEthtoolOffload()
		if err != nil {
			return nil, errors.Wrap(err, errors.KindUnavailable, "offload probing unavailable")
		}
		d.closers = append(d.closers, eo.Close)
		offload = eo
	}
	d.links = network.NewHandler(network.HandlerConfig{
		Links:   d.resolver,
		Points:  d.points,
		Offload: offload,
		Logger:  logger,
	})
	d.monitor = network.NewMonitor(d.links, cfg.NetNS, logger).Run

	var cert *cryptotls.Certificate
	if cfg.API.TLSEnabled() {
		cert, err = certs.EnsureCertificate(cfg.API.TLSCert, cfg.API.TLSKey, certs.DefaultValidDays)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to prepare API certificate")
		}
		logger.Info("API certificate loaded", "cert", cfg.API.TLSCert, "fingerprint", certs.Fingerprint(cert))
	}

	d.api, err = api.NewServer(api.ServerOptions{
		Engine:  d.engine,
		Points:  d.points,
		Links:   d.links,
		Journal: d.journal,
		Hub:     d.hub,
		Reload: func(ctx context.Context) (*reconcile.Result, error) {
			return d.Reload(ctx, "api")
		},
		Logs:    logging.Backlog(),
		Health:  d.health,
		Metrics: d.metrics,
		APIKey:  cfg.API.APIKey,
		TLS:     cert,
		Backend: cfg.Backend,
		Version: brand.Version,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, d.api.Close)
	return d, nil
}

// Close releases everything NewDaemon opened, newest first.
func (d *Daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Apply runs one configuration transaction.
func (d *Daemon) Apply(ctx context.Context, cfg *config.Config, source string) (*reconcile.Result, error) {
	d.log.SetLevel(logging.ParseLevel(cfg.LogLevel))
	return d.rc.Apply(ctx, cfg, source)
}

// Reload re-reads the configuration file and applies it. A file that
// fails to load or validate leaves the running state untouched.
func (d *Daemon) Reload(ctx context.Context, source string) (*reconcile.Result, error) {
	cfg, err := config.LoadFile(d.configFile)
	if err != nil {
		d.metrics.IncrementConfigReload(false)
		return nil, errors.Wrap(err, errors.KindValidation, "failed to load configuration")
	}
	problems := cfg.Validate()
	for _, w := range problems.Warnings() {
		d.log.Warn("Configuration warning", "field", w.Field, "message", w.Message)
	}
	if problems.HasErrors() {
		d.metrics.IncrementConfigReload(false)
		return nil, errors.Wrap(problems, errors.KindValidation, "configuration invalid")
	}
	if cfg.Backend != d.cfg.Backend || cfg.NFTTable != d.cfg.NFTTable {
		d.log.Warn("Backend settings changed, restart to apply", "backend", cfg.Backend, "nft_table", cfg.NFTTable)
	}
	return d.Apply(ctx, cfg, source)
}

// Run applies the startup configuration, then serves the API, follows
// link changes and samples counters until ctx is done. SIGHUP reloads.
func (d *Daemon) Run(ctx context.Context) error {
	if _, err := d.Apply(ctx, d.cfg, "startup"); err != nil {
		d.log.Error("Startup configuration failed", "error", err)
	}

	collector := metrics.NewCollector(d.metrics, d.engine, d.log, d.cfg.MetricsInterval())
	defer collector.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		collector.Start()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		collector.Stop()
		return nil
	})
	g.Go(func() error {
		return d.api.Start(ctx, d.cfg.API.Listen)
	})
	g.Go(func() error {
		err := d.monitor(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				d.log.Info("Received SIGHUP, reloading configuration")
				if _, err := d.Reload(ctx, "sighup"); err != nil {
					d.log.Error("Reload failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// RunStart runs the daemon in the foreground until SIGINT or SIGTERM.
func RunStart(configFile, pidFile string) error {
	cfg, err := loadAndValidate(configFile)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level: logging.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogFormat == "json",
	})
	logging.SetDefault(logger)
	logger.Info("Starting "+brand.Name, "version", brand.Version, "config", configFile, "backend", cfg.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pidCtx, cancelPID := context.WithCancel(ctx)
	cleanup, err := setupPIDFile(pidCtx, pidFile)
	if err != nil {
		cancelPID()
		return err
	}
	defer func() {
		cancelPID()
		cleanup()
	}()

	d, err := NewDaemon(configFile, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	err = d.Run(ctx)
	logger.Info("Shutting down")
	return err
}
