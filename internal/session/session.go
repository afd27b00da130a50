// Package session ties the per-session correlation state together: the
// pending browser-resource table, the redirect tracker, event subscribers and
// blocking configuration, plus the registry and lifecycle controller that
// own sessions process-wide.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/usestring/mitmsession/internal/blockpolicy"
	"github.com/usestring/mitmsession/internal/logging"
	"github.com/usestring/mitmsession/internal/metrics"
	"github.com/usestring/mitmsession/internal/origin"
	"github.com/usestring/mitmsession/internal/pending"
	"github.com/usestring/mitmsession/internal/redirect"
	"github.com/usestring/mitmsession/internal/upgrade"
	"github.com/usestring/mitmsession/pkg/types"
)

// ErrSessionClosed is returned to callers waiting on a session that closed.
var ErrSessionClosed = pending.ErrClosed

// Delegate receives notifications the proxy layer forwards to the browser
// emulation side.
type Delegate interface {
	DocumentHasUserActivity(documentURL string)
}

// ConnectionPool is the outbound-connection collaborator owned by a session.
type ConnectionPool interface {
	Close() error
}

// UpstreamProxySupplier produces the upstream proxy URL for a session.
// An empty URL means direct connections.
type UpstreamProxySupplier func(ctx context.Context) (string, error)

// Session is one browser automation run as seen by the proxy.
type Session struct {
	id           string
	userAgent    string
	headerPrefix string

	upstream       UpstreamProxySupplier
	upstreamGroup  singleflight.Group
	upstreamMu     sync.Mutex
	upstreamURL    string
	upstreamLoaded bool

	delegate Delegate
	pool     ConnectionPool

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	blockMu      sync.RWMutex
	blockURLs    []string
	blockImages  bool
	blockRules   *blockpolicy.RuleSet
	blockHandler func(*http.Request) bool

	nextRequestID atomic.Int64

	resources *pending.Table
	tracker   *redirect.Tracker
	upgrades  *upgrade.Table
	events    events
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Session at open time.
type Option func(*Session)

// WithDelegate sets the user-activity delegate.
func WithDelegate(d Delegate) Option {
	return func(s *Session) {
		s.delegate = d
	}
}

// WithConnectionPool sets the outbound connection pool closed with the session.
func WithConnectionPool(p ConnectionPool) Option {
	return func(s *Session) {
		s.pool = p
	}
}

// WithBlockURLs sets the URL substrings that block a request.
func WithBlockURLs(fragments ...string) Option {
	return func(s *Session) {
		s.blockURLs = append([]string(nil), fragments...)
	}
}

// WithBlockImages blocks image resources.
func WithBlockImages(block bool) Option {
	return func(s *Session) {
		s.blockImages = block
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// UserAgent returns the synthetic user agent of the session.
func (s *Session) UserAgent() string {
	return s.userAgent
}

// IsClosing reports whether Close has started for this session.
func (s *Session) IsClosing() bool {
	return s.closing.Load()
}

// UpstreamProxyURL resolves the upstream proxy URL once per session;
// concurrent first callers share one supplier call. A failed resolution is
// not cached.
func (s *Session) UpstreamProxyURL(ctx context.Context) (string, error) {
	if s.upstream == nil {
		return "", nil
	}

	if u, ok := s.cachedUpstream(); ok {
		return u, nil
	}

	v, err, _ := s.upstreamGroup.Do("upstream", func() (any, error) {
		// A flight that finished after our check above already stored it.
		if u, ok := s.cachedUpstream(); ok {
			return u, nil
		}
		u, err := s.upstream(ctx)
		if err != nil {
			return "", err
		}
		s.upstreamMu.Lock()
		s.upstreamURL = u
		s.upstreamLoaded = true
		s.upstreamMu.Unlock()
		return u, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolving upstream proxy: %w", err)
	}
	return v.(string), nil
}

func (s *Session) cachedUpstream() (string, bool) {
	s.upstreamMu.Lock()
	defer s.upstreamMu.Unlock()
	return s.upstreamURL, s.upstreamLoaded
}

// TrackingHeaders returns the marker header the proxy injects so that later
// requests can be attributed to this session.
func (s *Session) TrackingHeaders() types.Headers {
	return types.Headers{{s.headerPrefix + s.id, "1"}}
}

// AwaitBrowserResource blocks until the browser reports metadata for
// (u, method), then classifies the request's origin from headers.
// Returns ErrSessionClosed if the session closes first.
func (s *Session) AwaitBrowserResource(ctx context.Context, u *url.URL, method string, headers types.Headers) (types.BrowserResource, error) {
	start := time.Now()
	res, err := s.resources.Await(ctx, u.String(), method)
	s.metrics.RecordResourceWait(resourceOutcome(err), time.Since(start))
	if err != nil {
		if errors.Is(err, pending.ErrClosed) {
			return types.BrowserResource{}, ErrSessionClosed
		}
		return types.BrowserResource{}, err
	}
	res.OriginType = origin.Classify(u, headers, res.DocumentURL)
	return res, nil
}

func resourceOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeResolved
	case errors.Is(err, pending.ErrClosed):
		return metrics.OutcomeClosed
	case errors.Is(err, pending.ErrEvicted):
		return metrics.OutcomeEvicted
	default:
		return metrics.OutcomeCanceled
	}
}

// ReportBrowserResource records browser metadata for a request, waking any
// proxy goroutine waiting on the same url and method.
func (s *Session) ReportBrowserResource(res types.BrowserResource) bool {
	ok := s.resources.Report(res)
	s.logger.Debug("browser resource reported",
		slog.String("url", res.URL),
		slog.String("method", res.Method),
		slog.String("browser_request_id", res.BrowserRequestID),
		slog.Bool("first", ok),
	)
	return ok
}

// ReportUpgradeHeaders registers the headers of an upgrade request the
// browser is about to send, so the proxy can attribute it to this session.
func (s *Session) ReportUpgradeHeaders(browserRequestID string, headers types.Headers) bool {
	return s.upgrades.Report(s.id, browserRequestID, headers)
}

// UpgradeRequestID returns the browser request id reported for an upgrade
// with these headers, waiting without a deadline of its own.
func (s *Session) UpgradeRequestID(ctx context.Context, headers types.Headers) (string, error) {
	lookup, err := s.upgrades.Await(ctx, headers, 0)
	if err != nil {
		return "", err
	}
	return lookup.BrowserRequestID, nil
}

// NextRequestID returns a session-unique, increasing transaction id.
func (s *Session) NextRequestID() int64 {
	return s.nextRequestID.Add(1)
}

// TrackRequest appends req to the session's request log, deriving its
// redirect fields. Requests are not tracked once the session is closing.
func (s *Session) TrackRequest(req *types.TrackedRequest) *types.TrackedRequest {
	if s.IsClosing() {
		return req
	}
	return s.tracker.Track(req)
}

// TrackedRequests returns the request log in arrival order.
func (s *Session) TrackedRequests() []*types.TrackedRequest {
	return s.tracker.Requests()
}

// RecordResponse tracks the completed transaction and emits a response event.
func (s *Session) RecordResponse(ev types.ResponseEvent) *types.TrackedRequest {
	tracked := s.TrackRequest(&types.TrackedRequest{
		ID:               ev.ID,
		BrowserRequestID: ev.BrowserRequestID,
		URL:              ev.URL,
		OriginalURL:      ev.URL,
		Method:           ev.Method,
		RedirectedToURL:  ev.RedirectedToURL,
		OriginalHeaders:  ev.OriginalHeaders,
		ResourceType:     ev.ResourceType,
		StatusCode:       ev.StatusCode,
	})
	s.EmitResponse(ev)
	return tracked
}

// RecordHTTPError emits an httpError event for a failed transaction.
func (s *Session) RecordHTTPError(rawURL, method string, cause error) *types.TransactionError {
	txErr := &types.TransactionError{URL: rawURL, Method: method, Err: cause}
	s.logger.Debug("transaction failed",
		slog.String("url", rawURL),
		slog.String("method", method),
		slog.Any("error", cause),
	)
	s.EmitHTTPError(types.HTTPErrorEvent{URL: rawURL, Method: method, Error: txErr})
	return txErr
}

// RecordDocumentUserActivity forwards user activity on a document to the
// delegate, if one is set.
func (s *Session) RecordDocumentUserActivity(documentURL string) {
	if s.delegate != nil {
		s.delegate.DocumentHasUserActivity(documentURL)
	}
}

// BlockURLs returns a copy of the blocked URL fragments.
func (s *Session) BlockURLs() []string {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	return append([]string(nil), s.blockURLs...)
}

// SetBlockURLs replaces the blocked URL fragments.
func (s *Session) SetBlockURLs(fragments []string) {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	s.blockURLs = append([]string(nil), fragments...)
}

// BlockImages reports whether image resources are blocked.
func (s *Session) BlockImages() bool {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	return s.blockImages
}

// SetBlockImages toggles image blocking.
func (s *Session) SetBlockImages(block bool) {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	s.blockImages = block
}

// SetBlockRules compiles jq predicates evaluated by ShouldBlock.
// An invalid expression leaves the current rules untouched.
func (s *Session) SetBlockRules(expressions []string) error {
	rules, err := blockpolicy.NewRuleSet(expressions)
	if err != nil {
		return err
	}
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	s.blockRules = rules
	return nil
}

// SetBlockHandler installs an override predicate that takes precedence over
// every other blocking setting. nil removes it.
func (s *Session) SetBlockHandler(fn func(*http.Request) bool) {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	s.blockHandler = fn
}

// BlockHandler evaluates the override predicate; false when none is set.
func (s *Session) BlockHandler(req *http.Request) bool {
	s.blockMu.RLock()
	fn := s.blockHandler
	s.blockMu.RUnlock()

	if fn != nil {
		return fn(req)
	}
	return false
}

// ShouldBlockRequest reports whether rawURL contains a blocked fragment.
func (s *Session) ShouldBlockRequest(rawURL string) bool {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()

	for _, fragment := range s.blockURLs {
		if fragment != "" && strings.Contains(rawURL, fragment) {
			return true
		}
	}
	return false
}

// ShouldBlock combines every blocking input for a request whose browser
// metadata is known. The override handler decides alone when set; otherwise
// URL fragments, image blocking and jq rules are checked in that order.
func (s *Session) ShouldBlock(req *http.Request, res types.BrowserResource) bool {
	s.blockMu.RLock()
	handler := s.blockHandler
	blockImages := s.blockImages
	rules := s.blockRules
	s.blockMu.RUnlock()

	if handler != nil {
		blocked := handler(req)
		if blocked {
			s.metrics.RecordBlocked("handler")
		}
		return blocked
	}

	rawURL := res.URL
	if rawURL == "" && req != nil && req.URL != nil {
		rawURL = req.URL.String()
	}
	if s.ShouldBlockRequest(rawURL) {
		s.metrics.RecordBlocked("url")
		return true
	}
	if blockImages && res.ResourceType == types.ResourceImage {
		s.metrics.RecordBlocked("image")
		return true
	}

	rule, err := rules.Match(blockpolicy.Input{
		URL:              rawURL,
		Method:           res.Method,
		ResourceType:     res.ResourceType,
		OriginType:       res.OriginType,
		DocumentURL:      res.DocumentURL,
		HasUserGesture:   res.HasUserGesture,
		IsUserNavigation: res.IsUserNavigation,
	})
	if err != nil {
		s.logger.Warn("block rule evaluation failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
	}
	if rule == nil {
		return false
	}
	s.metrics.RecordBlocked("rule")
	return true
}

// newSession builds a session; callers register it through Manager.Open.
func newSession(id, userAgent, headerPrefix string, pendingMax int, upstream UpstreamProxySupplier, upgrades *upgrade.Table, opts ...Option) (*Session, error) {
	resources, err := pending.NewTable(pendingMax)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:           id,
		userAgent:    userAgent,
		headerPrefix: headerPrefix,
		upstream:     upstream,
		resources:    resources,
		tracker:      redirect.NewTracker(),
		upgrades:     upgrades,
		logger:       logging.ForSession(id),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// release discards all state owned by the session. It runs once; later calls
// return the first result.
func (s *Session) release() (first bool, err error) {
	s.closeOnce.Do(func() {
		first = true
		s.closing.Store(true)

		removed := s.upgrades.RemoveSession(s.id)
		s.resources.Close()
		s.tracker.Reset()

		if s.pool != nil {
			if cerr := s.pool.Close(); cerr != nil {
				s.closeErr = fmt.Errorf("closing connection pool: %w", cerr)
			}
		}

		s.logger.Debug("session state released",
			slog.Int("upgrade_entries_removed", removed),
		)
	})
	return first, s.closeErr
}
