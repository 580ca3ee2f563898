// Package runtime assembles a connector from its config: store, vault,
// identity, policy engine, control plane, data plane selector, embedded data
// plane, federated catalog and the HTTP listeners.
package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/catalog"
	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/dataplane"
	"github.com/DeBrosOfficial/dataspace/pkg/events"
	"github.com/DeBrosOfficial/dataspace/pkg/gateway"
	"github.com/DeBrosOfficial/dataspace/pkg/identity"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/olric"
	"github.com/DeBrosOfficial/dataspace/pkg/policy"
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
	"github.com/DeBrosOfficial/dataspace/pkg/selector"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
	"github.com/DeBrosOfficial/dataspace/pkg/store"
	"github.com/DeBrosOfficial/dataspace/pkg/vault"
)

const (
	signalingTimeout  = 30 * time.Second
	limiterCleanup    = time.Minute
	limiterMaxIdle    = 10 * time.Minute
	defaultTokenAlias = "dataplane-token-key"
	defaultOlricDMap  = "federated-catalog"
)

// Option customizes a runtime.
type Option func(*Runtime)

// WithExtensions adds extensions, initialized in order.
func WithExtensions(exts ...Extension) Option {
	return func(r *Runtime) { r.extensions = append(r.extensions, exts...) }
}

// Runtime is a running connector.
type Runtime struct {
	cfg    *config.Config
	logger *logging.ColoredLogger

	store     *store.SQLStore
	vault     *vault.MemoryVault
	bus       *events.Bus
	hub       *events.Hub
	callbacks *events.CallbackDispatcher

	negotiations  *controlplane.NegotiationManager
	transfers     *controlplane.TransferManager
	watchdog      *controlplane.Watchdog
	management    *controlplane.ManagementService
	selector      *selector.Service
	healthChecker *selector.HealthChecker

	dataPlane *dataplane.Manager
	publicAPI *dataplane.PublicAPI
	control   *signaling.ControlClient

	olric   *olric.Client
	crawler *catalog.Crawler

	health  *gateway.Health
	limiter *gateway.RateLimiter
	server  *gateway.Server

	extensions []Extension

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New assembles a runtime. Nothing listens or runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *logging.ColoredLogger, opts ...Option) (*Runtime, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Runtime{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	r.store = st

	if err := r.assemble(ctx); err != nil {
		r.closeResources(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Runtime) assemble(ctx context.Context) error {
	cfg, logger := r.cfg, r.logger

	r.vault = vault.NewMemoryVault(logger)
	if err := r.vault.Seed(ctx, cfg.Vault.Files, cfg.Vault.PropertiesFile, cfg.Vault.Secrets); err != nil {
		return fmt.Errorf("seed vault: %w", err)
	}

	claims := make(map[string]any, len(cfg.Participant.Claims))
	for k, v := range cfg.Participant.Claims {
		claims[k] = v
	}
	ids := identity.NewMockService(cfg.Participant.ID, cfg.Participant.Region, claims)

	engine := policy.NewEngine(policy.NewRuleBindingRegistry(), logger)
	if cfg.Policy.SampleFunctions {
		policy.RegisterSampleFunctions(engine, cfg.Policy.Bindings)
	} else {
		policy.ApplyBindings(engine, cfg.Policy.Bindings)
	}

	r.bus = events.NewBus(logger)
	r.hub = events.NewHub(logger)
	r.bus.Subscribe(r.hub.Handle)
	r.callbacks = events.NewCallbackDispatcher(r.vault, logger)
	r.bus.Subscribe(r.callbacks.Handle)

	deps := controlplane.Dependencies{
		Store:      r.store,
		Dispatcher: protocol.NewHTTPDispatcher(ids, cfg.ControlPlane.SendTimeout, logger),
		Policy:     engine,
		Events:     r.bus,
		Logger:     logger,
		Callbacks:  r.callbacks,
	}
	settings := controlplane.Settings{
		ParticipantID:      cfg.Participant.ID,
		ProtocolURL:        cfg.ProtocolURL(),
		ControlURL:         cfg.ControlURL(),
		ControlPlaneConfig: cfg.ControlPlane,
	}

	r.selector = selector.NewService(r.store.DataPlanes(), cfg.Selector.Strategy, logger)
	r.control = signaling.NewControlClient(signalingTimeout, logger)
	if cfg.DataPlane.Enabled {
		if err := r.buildDataPlane(ctx); err != nil {
			return err
		}
	}
	clients := r.clientFactory()

	flows := controlplane.NewDataFlowManager(controlplane.NewStaticEndpointFlowController(r.vault, logger))
	prov := controlplane.NewProvisionManager()
	prov.RegisterGenerator(controlplane.LocalResourceGenerator{})
	prov.RegisterProvisioner(controlplane.NewLocalResourceProvisioner(cfg.ControlPlane.ProvisionMaxRetries, logger))
	checkers := controlplane.NewStatusCheckerRegistry()
	checkers.Register(model.TypeFile, controlplane.StatusCheckerFunc(controlplane.FileStatusChecker))
	listeners := controlplane.NewTransferObservable(logger)
	listeners.Register(controlplane.NewLoggingListener(logger))
	if cfg.ControlPlane.MarkerFile {
		listeners.Register(controlplane.NewMarkerFileListener(logger))
	}

	catalogSvc := controlplane.NewCatalogService(deps, settings, r.selector)
	r.negotiations = controlplane.NewNegotiationManager(deps, settings, catalogSvc)
	r.transfers = controlplane.NewTransferManager(deps, settings, controlplane.TransferOptions{
		Flows:        flows,
		Provisioning: prov,
		Checkers:     checkers,
		Listeners:    listeners,
	})
	if wd := cfg.ControlPlane.Watchdog; wd.Enabled {
		r.watchdog = controlplane.NewWatchdog(r.transfers, wd.Interval, wd.MaxAge)
	}
	r.management = controlplane.NewManagementService(deps, r.negotiations, r.transfers, r.selector)
	if cfg.Selector.HealthCheckInterval > 0 {
		r.healthChecker = selector.NewHealthChecker(r.selector, clients, cfg.Selector.HealthCheckInterval, logger)
	}

	r.health = gateway.NewHealth(logger)
	r.health.Register(gateway.HealthCheck{Component: "store", Check: r.store.Ping})
	if r.dataPlane != nil {
		r.health.Register(gateway.HealthCheck{Component: "dataplane", Check: r.dataPlane.Check})
	}
	if cfg.Auth.RateLimit > 0 {
		r.limiter = gateway.NewRateLimiter(cfg.Auth.RateLimit, cfg.Auth.RateBurst)
	}
	r.server = gateway.NewServer(cfg.Web, logger)

	if cfg.FederatedCatalog.Enabled {
		if err := r.buildFederatedCatalog(ctx, deps.Dispatcher); err != nil {
			return err
		}
	}

	ectx := &Context{
		Config:            cfg,
		Logger:            logger,
		Store:             r.store,
		Vault:             r.vault,
		Policy:            engine,
		Events:            r.bus,
		Management:        r.management,
		DataFlows:         flows,
		Provisioning:      prov,
		StatusCheckers:    checkers,
		TransferListeners: listeners,
		Health:            r.health,
		server:            r.server,
	}
	if r.dataPlane != nil {
		ectx.Pipeline = r.dataPlane.Pipeline()
	}
	for _, ext := range r.extensions {
		if err := ext.Initialize(ectx); err != nil {
			return fmt.Errorf("initialize extension %s: %w", ext.Name(), err)
		}
		logger.ComponentInfo(logging.ComponentGeneral, "Extension initialized", zap.String("name", ext.Name()))
	}
	flows.Register(controlplane.NewSignalingFlowController(r.selector, clients, cfg.Selector.Strategy, settings.ControlURL, logger))

	r.mountListeners(catalogSvc, ids)
	return nil
}

// buildDataPlane creates the embedded data plane and its sources and sinks.
func (r *Runtime) buildDataPlane(ctx context.Context) error {
	cfg := r.cfg
	dp := cfg.DataPlane
	if dp.ID == "" {
		dp.ID = cfg.Participant.ID + "-dataplane"
	}
	dp.PublicEndpoint = cfg.PublicURL()
	dp.SignalingURL = cfg.SignalingURL()
	alias := dp.TokenKeyAlias
	if alias == "" {
		alias = defaultTokenAlias
	}

	key, generated, err := vault.SigningKey(ctx, r.vault, alias)
	if err != nil {
		return fmt.Errorf("data plane token key: %w", err)
	}
	if generated {
		r.logger.ComponentInfo(logging.ComponentDataPlane, "Generated ephemeral token signing key", zap.String("alias", alias))
	}

	pipeline := dataplane.NewPipelineService(r.logger)
	httpData := dataplane.NewHTTPDataFactory(0, r.vault)
	s3 := dataplane.NewS3Factory(r.vault)
	pipeline.RegisterSource(dataplane.FileSourceFactory{})
	pipeline.RegisterSink(dataplane.FileSinkFactory{})
	pipeline.RegisterSource(httpData)
	pipeline.RegisterSink(httpData)
	pipeline.RegisterSource(s3)
	pipeline.RegisterSink(s3)
	pipeline.RegisterSource(dataplane.NewStreamingSourceFactory(r.logger))

	tokens := dataplane.NewTokenService(key, cfg.Participant.ID, dp.TokenTTL)
	r.dataPlane = dataplane.NewManager(r.store.DataFlows(), pipeline, tokens, r.control, dp, r.logger)
	r.publicAPI = dataplane.NewPublicAPI(r.dataPlane, httpData, r.logger)
	return nil
}

// clientFactory drives the embedded data plane in-process and every other
// instance over HTTP.
func (r *Runtime) clientFactory() signaling.ClientFactory {
	remote := signaling.HTTPClientFactory(signalingTimeout, r.logger)
	if r.dataPlane == nil {
		return remote
	}
	local := r.dataPlane.Instance().ID
	return func(inst model.DataPlaneInstance) signaling.Client {
		if inst.ID == local {
			return r.dataPlane
		}
		return remote(inst)
	}
}

func (r *Runtime) buildFederatedCatalog(ctx context.Context, d protocol.Dispatcher) error {
	fc := r.cfg.FederatedCatalog
	dir, err := catalog.NewDirectory(fc.Directory)
	if err != nil {
		return err
	}

	var cache catalog.Cache
	switch fc.Cache.Backend {
	case "", "memory":
		cache = catalog.NewMemoryCache()
	case "olric":
		client, err := olric.NewClient(olric.Config{Servers: fc.Cache.OlricServers, Timeout: fc.Cache.Timeout}, r.logger)
		if err != nil {
			return err
		}
		r.olric = client
		dmap := fc.Cache.DMap
		if dmap == "" {
			dmap = defaultOlricDMap
		}
		oc, err := catalog.NewOlricCache(client, dmap, r.logger)
		if err != nil {
			return err
		}
		cache = oc
		r.health.Register(gateway.HealthCheck{Component: "olric", Check: client.Health})
	default:
		return fmt.Errorf("unknown federated catalog cache backend %q", fc.Cache.Backend)
	}

	r.crawler = catalog.NewCrawler(dir, catalog.DSPFetcher{Dispatcher: d}, cache, catalog.CrawlerConfig{
		Delay:   fc.ExecutionDelay,
		Period:    fc.ExecutionPeriod,
		Workers:   fc.Workers,
		Retention: fc.Retention,
	}, r.logger)
	return nil
}

func (r *Runtime) mountListeners(catalogSvc *controlplane.CatalogService, ids identity.Service) {
	web := r.cfg.Web

	r.server.Add(gateway.Context{
		Name:     "default",
		Listener: web.Default,
		Mount:    r.health.Routes,
	})

	mgmtMiddleware := []func(http.Handler) http.Handler{gateway.APIKeyAuth(r.cfg.Auth, r.logger)}
	if r.limiter != nil {
		mgmtMiddleware = append([]func(http.Handler) http.Handler{r.limiter.Middleware}, mgmtMiddleware...)
	}
	r.server.Add(gateway.Context{
		Name:       "management",
		Listener:   web.Management,
		Mount:      gateway.NewManagementHandlers(r.management, r.hub, r.logger).Routes,
		Middleware: mgmtMiddleware,
	})

	r.server.Add(gateway.Context{
		Name:     "protocol",
		Listener: web.Protocol,
		Mount:    protocol.NewHandlers(catalogSvc, r.negotiations, r.transfers, ids, r.logger).Routes,
	})

	control := signaling.NewControlHandlers(r.transfers, r.selector, r.logger)
	r.server.Add(gateway.Context{
		Name:     "control",
		Listener: web.Control,
		Mount: func(cr chi.Router) {
			control.Routes(cr)
			if r.dataPlane != nil {
				signaling.NewDataPlaneHandlers(r.dataPlane, r.logger).Routes(cr)
			}
		},
	})

	if r.dataPlane != nil {
		maxConns := r.cfg.DataPlane.MaxPublicConns
		r.server.Add(gateway.Context{
			Name:     "public",
			Listener: web.Public,
			Mount:    r.publicAPI.Routes,
			WrapListener: func(l net.Listener) net.Listener {
				return dataplane.LimitListener(l, maxConns)
			},
		})
	}

	if r.crawler != nil {
		r.server.Add(gateway.Context{
			Name:     "catalog",
			Listener: web.Catalog,
			Mount:    catalog.NewQueryHandlers(r.crawler.Cache()).Routes,
		})
	}
}

// Management returns the management service.
func (r *Runtime) Management() *controlplane.ManagementService { return r.management }

// Addr returns the bound address of a listener context after Start.
func (r *Runtime) Addr(name string) string { return r.server.Addr(name) }

// Start seeds the store, binds the listeners and starts the background
// loops. The loops stop on Shutdown, not when ctx ends.
func (r *Runtime) Start(ctx context.Context) error {
	if err := Seed(ctx, r.management, r.cfg.Seed, r.logger); err != nil {
		return err
	}
	for _, e := range r.cfg.Selector.Instances {
		inst := model.DataPlaneInstance{
			ID:                   e.ID,
			URL:                  e.URL,
			AllowedSourceTypes:   e.AllowedSourceTypes,
			AllowedTransferTypes: e.AllowedTransferTypes,
		}
		if err := r.selector.Register(ctx, inst); err != nil {
			return fmt.Errorf("register data plane %s: %w", e.ID, err)
		}
	}
	if err := r.server.Start(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	if r.dataPlane != nil {
		if err := r.registerDataPlane(ctx, loopCtx); err != nil {
			return err
		}
	}

	r.goLoop(r.negotiations.Run, loopCtx)
	r.goLoop(r.transfers.Run, loopCtx)
	r.goLoop(r.callbacks.Run, loopCtx)
	if r.watchdog != nil {
		r.goLoop(r.watchdog.Run, loopCtx)
	}
	if r.healthChecker != nil {
		r.goLoop(r.healthChecker.Run, loopCtx)
	}
	if r.crawler != nil {
		r.goLoop(r.crawler.Run, loopCtx)
	}
	if r.limiter != nil {
		r.limiter.StartCleanup(loopCtx, limiterCleanup, limiterMaxIdle)
	}

	for _, ext := range r.extensions {
		if err := ext.Start(ctx); err != nil {
			return fmt.Errorf("start extension %s: %w", ext.Name(), err)
		}
	}
	r.health.MarkStarted()
	r.logger.ComponentInfo(logging.ComponentGeneral, "Connector started",
		zap.String("participant_id", r.cfg.Participant.ID),
		zap.String("protocol_url", r.cfg.ProtocolURL()),
		zap.Bool("data_plane", r.dataPlane != nil),
		zap.Bool("federated_catalog", r.crawler != nil),
	)
	return nil
}

// registerDataPlane registers the embedded data plane with the local
// selector, or in the background with a remote control plane.
func (r *Runtime) registerDataPlane(ctx, loopCtx context.Context) error {
	inst := r.dataPlane.Instance()
	target := r.cfg.DataPlane.RegisterWith
	if target == "" {
		return r.selector.Register(ctx, inst)
	}
	reg := dataplane.RemoteRegistrar{Client: r.control, URL: target}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := dataplane.RegisterWithRetry(loopCtx, reg, inst, r.logger); err != nil && loopCtx.Err() == nil {
			r.logger.ComponentError(logging.ComponentDataPlane, "Data plane registration failed", zap.Error(err))
		}
	}()
	return nil
}

func (r *Runtime) goLoop(run func(context.Context), ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		run(ctx)
	}()
}

// Shutdown stops listeners and loops, then releases the store. Later calls
// are no-ops.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.logger.ComponentInfo(logging.ComponentGeneral, "Stopping connector")

	for i := len(r.extensions) - 1; i >= 0; i-- {
		if err := r.extensions[i].Shutdown(ctx); err != nil {
			r.logger.ComponentWarn(logging.ComponentGeneral, "Extension shutdown failed",
				zap.String("name", r.extensions[i].Name()), zap.Error(err))
		}
	}

	err := r.server.Shutdown(ctx)

	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	r.closeResources(ctx)
	r.logger.ComponentInfo(logging.ComponentGeneral, "Connector stopped")
	return err
}

func (r *Runtime) closeResources(ctx context.Context) {
	if r.dataPlane != nil {
		if err := r.dataPlane.Shutdown(ctx); err != nil {
			r.logger.ComponentWarn(logging.ComponentDataPlane, "Data plane shutdown error", zap.Error(err))
		}
	}
	if r.olric != nil {
		if err := r.olric.Close(ctx); err != nil {
			r.logger.ComponentWarn(logging.ComponentGeneral, "error during Olric client close", zap.Error(err))
		}
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}

// Run starts the runtime, blocks until ctx ends and shuts down within
// shutdownTimeout.
func (r *Runtime) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := r.Start(ctx); err != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = r.Shutdown(sctx)
		return err
	}
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return r.Shutdown(sctx)
}
