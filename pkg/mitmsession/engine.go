package mitmsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http/httpguts"

	"github.com/usestring/mitmsession/internal/config"
	"github.com/usestring/mitmsession/internal/instrument"
	"github.com/usestring/mitmsession/internal/logging"
	"github.com/usestring/mitmsession/internal/metrics"
	"github.com/usestring/mitmsession/internal/session"
	"github.com/usestring/mitmsession/pkg/resolvable"
	"github.com/usestring/mitmsession/pkg/types"
)

// Session is one browser automation run as seen by the proxy.
type Session = session.Session

// SessionOption configures a session at open time.
type SessionOption = session.Option

// UpstreamProxySupplier produces the upstream proxy URL for a session.
type UpstreamProxySupplier = session.UpstreamProxySupplier

// Delegate receives user-activity notifications for a session.
type Delegate = session.Delegate

// ConnectionPool is closed together with its session.
type ConnectionPool = session.ConnectionPool

// Session options
var (
	WithDelegate       = session.WithDelegate
	WithConnectionPool = session.WithConnectionPool
	WithBlockURLs      = session.WithBlockURLs
	WithBlockImages    = session.WithBlockImages
)

// Errors
var (
	ErrSessionClosed  = session.ErrSessionClosed
	ErrTimeout        = resolvable.ErrTimeout
	ErrUnknownSession = instrument.ErrUnknownSession
	ErrInvalidMessage = instrument.ErrInvalidMessage
)

// HeadersFromHTTP converts net/http headers.
func HeadersFromHTTP(h http.Header) types.Headers {
	return types.FromHTTP(h)
}

// Engine owns every open session and the shared upgrade correlation table.
type Engine struct {
	manager    *session.Manager
	dispatcher *instrument.Dispatcher
	gatherer   prometheus.Gatherer
	logCleanup func() error
}

// NewEngine creates an engine configured from the environment and opts.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{
		config: config.Load(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	logCfg := logging.FromConfig(cfg.config)
	if cfg.logLevel != "" {
		logCfg.Level = cfg.logLevel
	}
	if cfg.logFile != "" {
		logCfg.FilePath = cfg.logFile
	}
	logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	reg := cfg.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)
	gatherer, _ := reg.(prometheus.Gatherer)

	manager := session.NewManager(cfg.config, nil, session.WithMetrics(m))
	dispatcher, err := instrument.NewDispatcher(manager, instrument.WithMetrics(m))
	if err != nil {
		_ = logCleanup()
		return nil, fmt.Errorf("failed to create instrumentation dispatcher: %w", err)
	}

	return &Engine{
		manager:    manager,
		dispatcher: dispatcher,
		gatherer:   gatherer,
		logCleanup: logCleanup,
	}, nil
}

// Gatherer returns the registry holding the engine's metrics, or nil when a
// registerer that cannot gather was supplied.
func (e *Engine) Gatherer() prometheus.Gatherer {
	return e.gatherer
}

// Open creates and registers a session. Reusing an id supersedes the
// previous session without closing it.
func (e *Engine) Open(id, userAgent string, upstream UpstreamProxySupplier, opts ...SessionOption) (*Session, error) {
	return e.manager.Open(id, userAgent, upstream, opts...)
}

// Session returns the open session with this id, or nil.
func (e *Engine) Session(id string) *Session {
	return e.manager.Get(id)
}

// Sessions returns every open session ordered by id.
func (e *Engine) Sessions() []*Session {
	return e.manager.Registry().List()
}

// ResolveSession finds the session a proxied request belongs to. Upgrade
// requests without a marker header wait for their handshake report up to the
// configured upgrade timeout. A request that belongs to no session yields
// (nil, nil).
func (e *Engine) ResolveSession(ctx context.Context, r *http.Request) (*Session, error) {
	return e.manager.ResolveSessionForRequest(ctx, requestHeaders(r), r.Method, IsUpgrade(r.Header), 0)
}

// AwaitRequest waits for the browser metadata of r in session s. Requests
// received in origin form are matched by the absolute URL RequestURL rebuilds.
func (e *Engine) AwaitRequest(ctx context.Context, s *Session, r *http.Request) (types.BrowserResource, error) {
	return s.AwaitBrowserResource(ctx, RequestURL(r), r.Method, requestHeaders(r))
}

// RequestURL returns the absolute URL of r. A server-side request usually
// carries only the path, so scheme and host are taken from the connection
// and the Host header.
func RequestURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}
	u := *r.URL
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = r.Host
	return &u
}

// requestHeaders converts r's headers, restoring Host, which net/http moves
// out of the header map.
func requestHeaders(r *http.Request) types.Headers {
	headers := types.FromHTTP(r.Header)
	if r.Host != "" {
		if _, ok := headers.Lookup("Host"); !ok {
			headers.Add("Host", r.Host)
		}
	}
	return headers
}

// ResolveSessionHeaders is ResolveSession for callers that keep raw,
// order-preserving headers.
func (e *Engine) ResolveSessionHeaders(ctx context.Context, headers types.Headers, method string, isUpgrade bool) (*Session, error) {
	return e.manager.ResolveSessionForRequest(ctx, headers, method, isUpgrade, 0)
}

// IsUpgrade reports whether the headers request a protocol upgrade.
func IsUpgrade(h http.Header) bool {
	return httpguts.HeaderValuesContainsToken(h["Connection"], "upgrade") && h.Get("Upgrade") != ""
}

// Ingest applies one instrumentation message.
func (e *Engine) Ingest(ctx context.Context, raw []byte) error {
	return e.dispatcher.Handle(ctx, raw)
}

// CloseSession closes s. Closing twice is a no-op.
func (e *Engine) CloseSession(ctx context.Context, s *Session) error {
	return e.manager.Close(ctx, s)
}

// CloseAll closes every open session concurrently.
func (e *Engine) CloseAll(ctx context.Context) error {
	return e.manager.CloseAll(ctx)
}

// Close closes every session and releases logging resources.
func (e *Engine) Close() error {
	err := e.CloseAll(context.Background())
	if e.logCleanup != nil {
		err = errors.Join(err, e.logCleanup())
	}
	return err
}
