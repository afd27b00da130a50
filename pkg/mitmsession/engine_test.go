package mitmsession

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogLevel("error")}, opts...)
	e, err := NewEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_EndToEnd(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	s, err := e.Open("run42", "Mozilla/5.0", nil)
	require.NoError(t, err)

	// The browser sends a request tagged with the marker header.
	req := httptest.NewRequest(http.MethodGet, "https://example.com/api", nil)
	for _, h := range s.TrackingHeaders() {
		req.Header.Set(h[0], h[1])
	}

	got, err := e.ResolveSession(ctx, req)
	require.NoError(t, err)
	require.Same(t, s, got, "canonicalized header names still resolve")

	require.NoError(t, e.Ingest(ctx, []byte(
		`{"type":"resourceRequested","sessionId":"run42","payload":{"browserRequestId":"9","url":"https://example.com/api","method":"GET","resourceType":"Fetch"}}`)))

	res, err := got.AwaitBrowserResource(ctx, req.URL, req.Method, HeadersFromHTTP(req.Header))
	require.NoError(t, err)
	assert.Equal(t, "9", res.BrowserRequestID)

	require.NoError(t, e.CloseSession(ctx, s))
	assert.Nil(t, e.Session("run42"))
}

func TestEngine_UpgradeWithoutMarker(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	s, err := e.Open("ws", "ua", nil)
	require.NoError(t, err)

	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"websocketHandshake","sessionId":"ws","payload":{
		"browserRequestId":"w1",
		"headers":{"Host":"chat.example.com","Connection":"Upgrade","Upgrade":"websocket","Sec-WebSocket-Key":"k","Sec-WebSocket-Version":"13"}
	}}`)))

	req := httptest.NewRequest(http.MethodGet, "http://chat.example.com/socket", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Key", "k")
	req.Header.Set("Sec-WebSocket-Version", "13")
	require.True(t, IsUpgrade(req.Header))

	got, err := e.ResolveSession(ctx, req)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestEngine_UpgradeTimeout(t *testing.T) {
	e := newTestEngine(t, WithUpgradeTimeout(30*time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "http://chat.example.com/socket", nil)
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")

	got, err := e.ResolveSession(context.Background(), req)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestEngine_PlainRequestWithoutSession(t *testing.T) {
	e := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	assert.False(t, IsUpgrade(req.Header))

	got, err := e.ResolveSession(context.Background(), req)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngine_CustomHeaderPrefix(t *testing.T) {
	e := newTestEngine(t, WithSessionHeaderPrefix("x-run-"))
	s, err := e.Open("abc", "ua", nil)
	require.NoError(t, err)

	assert.Equal(t, "x-run-abc", s.TrackingHeaders()[0][0])

	got, err := e.ResolveSessionHeaders(context.Background(), s.TrackingHeaders(), http.MethodGet, false)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestEngine_IngestErrors(t *testing.T) {
	e := newTestEngine(t)

	assert.ErrorIs(t, e.Ingest(context.Background(), []byte(`nope`)), ErrInvalidMessage)
	assert.ErrorIs(t, e.Ingest(context.Background(), []byte(
		`{"type":"documentUserActivity","sessionId":"ghost","payload":{"documentUrl":"https://a/"}}`)), ErrUnknownSession)
}

func TestEngine_CloseReleasesWaiters(t *testing.T) {
	e, err := NewEngine(WithLogLevel("error"))
	require.NoError(t, err)

	s, err := e.Open("s", "ua", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://example.com/pending", nil)
	errs := make(chan error, 1)
	go func() {
		_, err := s.AwaitBrowserResource(context.Background(), req.URL, req.Method, nil)
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, e.Close())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
	assert.Empty(t, e.Sessions())
}

func TestEngine_Metrics(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open("m", "ua", nil)
	require.NoError(t, err)

	families, err := e.Gatherer().Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "mitmsession_sessions_active")
}

func TestRequestURL(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/app.js?v=2", nil)
	plain.Host = "example.com"
	assert.Equal(t, "http://example.com/app.js?v=2", RequestURL(plain).String())
	assert.Equal(t, "/app.js?v=2", plain.URL.String(), "request URL is not modified")

	secure := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	secure.Host = "example.com:8443"
	secure.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https://example.com:8443/app.js", RequestURL(secure).String())

	proxied := httptest.NewRequest(http.MethodGet, "http://other.example/x", nil)
	assert.Same(t, proxied.URL, RequestURL(proxied))
}

func TestEngine_AwaitRequestInOriginForm(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	s, err := e.Open("run7", "ua", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	req.Host = "example.com"
	for _, h := range s.TrackingHeaders() {
		req.Header.Set(h[0], h[1])
	}
	require.False(t, req.URL.IsAbs())

	got, err := e.ResolveSession(ctx, req)
	require.NoError(t, err)
	require.Same(t, s, got)

	require.NoError(t, e.Ingest(ctx, []byte(
		`{"type":"resourceRequested","sessionId":"run7","payload":{"browserRequestId":"31","url":"http://example.com/app.js","method":"GET","resourceType":"Script"}}`)))

	awaitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	res, err := e.AwaitRequest(awaitCtx, got, req)
	require.NoError(t, err)
	assert.Equal(t, "31", res.BrowserRequestID)
}
