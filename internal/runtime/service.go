package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jpillora/requestlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/badaboda/mochevent/internal/runtime/config"
	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	loggingpkg "github.com/badaboda/mochevent/internal/runtime/logging"
	"github.com/badaboda/mochevent/internal/runtime/registry"
	"github.com/badaboda/mochevent/transport"
)

const shutdownTimeout = 5 * time.Second

// GatewayDependencies holds the optional collaborators of a Gateway.
// Leave fields nil to use the defaults.
type GatewayDependencies struct {
	// Link replaces the link built from Conf.Backend.
	Link transport.Link
	// Hooks are called after the built-in logging and metrics hooks.
	Hooks RequestHooks
	// Registerer receives the bridge metrics. Defaults to the global registry.
	Registerer prometheus.Registerer
	// Gatherer serves /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
}

// Gateway wires the backend link, the correlation registry and the HTTP bridge.
type Gateway struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry   *registry.Registry
	dispatcher *Dispatcher
	connector  *Connector
	bridge     *Bridge
	metrics    *BridgeMetrics
	process    *processSampler
	gatherer   prometheus.Gatherer
	served     atomic.Bool

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewGateway validates conf, connects the backend link and assembles the
// bridge. A link that cannot be established fails with an error wrapping
// ErrHandshakeFailure; the gateway must not serve in that case.
func NewGateway(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps GatewayDependencies) (*Gateway, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	withDefaults := conf.WithDefaults()
	conf = &withDefaults
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating gateway", loggingpkg.LogFields{
		loggingpkg.FieldBackend: conf.Backend,
		"config":                conf.String(),
	})

	link := deps.Link
	if link == nil {
		var err error
		link, err = transport.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			if errors.Is(err, errspkg.ErrHandshakeFailure) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", errspkg.ErrHandshakeFailure, err)
		}
	}

	g := &Gateway{
		Conf:     conf,
		Logger:   log,
		registry: registry.New(conf.Capacity),
		process:  newProcessSampler(),
		gatherer: deps.Gatherer,
	}
	if g.gatherer == nil {
		g.gatherer = prometheus.DefaultGatherer
	}

	g.metrics = NewBridgeMetrics(deps.Registerer, g.registry.Len)
	if conf.MetricsEnabled {
		if err := g.metrics.Register(); err != nil {
			link.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	var err error
	if g.dispatcher, err = NewDispatcher(g.registry, g.metrics, log); err != nil {
		link.Close()
		return nil, err
	}
	if g.connector, err = NewConnector(link, g.registry, g.dispatcher, conf.MaxHeaders, log); err != nil {
		link.Close()
		return nil, err
	}

	hooks := MetricsHooks(g.metrics).Merge(LoggingHooks(log)).Merge(deps.Hooks)
	g.bridge, err = NewBridge(g.registry, g.connector, hooks, BridgeOptions{
		Timeout:         conf.RequestTimeout,
		MaxBodyBytes:    conf.MaxBodyBytes,
		TimeoutBody:     conf.TimeoutBody,
		CapacityBody:    conf.CapacityBody,
		UnavailableBody: conf.UnavailableBody,
	}, log)
	if err != nil {
		link.Close()
		return nil, err
	}

	log.Info("Gateway ready", loggingpkg.LogFields{
		"identity": g.connector.Identity().String(),
		"capacity": conf.Capacity,
		"timeout":  conf.RequestTimeout.String(),
	})
	return g, nil
}

// Handler returns the bridged HTTP handler, serving every method and path.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/*", g.bridge)

	var h http.Handler = r
	if g.Conf.AccessLog {
		h = requestlog.Wrap(h)
	}
	return h
}

// Registry returns the correlation registry.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Metrics returns the bridge metrics.
func (g *Gateway) Metrics() *BridgeMetrics { return g.metrics }

// Start serves HTTP on Conf.ListenAddress and runs the backend receive loop
// until ctx is cancelled (returns nil) or the backend connection is lost
// (returns an error wrapping ErrConnectionLost).
func (g *Gateway) Start(ctx context.Context) error {
	if g.served.Load() {
		return errspkg.ErrAlreadyServed
	}
	ln, err := net.Listen("tcp", g.Conf.ListenAddress)
	if err != nil {
		g.connector.Close()
		return fmt.Errorf("listen on %s: %w", g.Conf.ListenAddress, err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Start on an existing listener. A gateway serves once; later calls
// close ln and return ErrAlreadyServed.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	if !g.served.CompareAndSwap(false, true) {
		ln.Close()
		return errspkg.ErrAlreadyServed
	}
	g.registerAuxHandlers()
	aux := g.startHTTPServers()

	srv := &http.Server{Handler: g.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 2)
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	go func() {
		errCh <- g.connector.Run(runCtx)
	}()
	go func() {
		g.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var result error
	select {
	case <-ctx.Done():
	case result = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	servers := append([]*http.Server{srv}, aux...)
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			g.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": s.Addr})
		}
	}
	stopRun()
	if err := g.connector.Close(); err != nil {
		g.Logger.Error("Failed to close backend link", err, nil)
	}
	return result
}

// RegisterHTTPHandler mounts handler on an auxiliary server listening on port.
func (g *Gateway) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	g.httpServersMu.Lock()
	defer g.httpServersMu.Unlock()

	if g.httpServers == nil {
		g.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := g.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		g.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (g *Gateway) registerAuxHandlers() {
	if g.Conf.MetricsEnabled && g.Conf.MetricsPort > 0 {
		g.RegisterHTTPHandler(g.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	}
	if g.Conf.AdminEnabled {
		g.RegisterHTTPHandler(g.Conf.AdminPort, "/", g.adminRouter())
	}
}

func (g *Gateway) startHTTPServers() []*http.Server {
	g.httpServersMu.Lock()
	defer g.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(g.httpServers))
	for port, mux := range g.httpServers {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, srv)
		g.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				g.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
	return servers
}
