package instrument

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/usestring/mitmsession/internal/metrics"
	"github.com/usestring/mitmsession/internal/session"
	"github.com/usestring/mitmsession/pkg/types"
)

var (
	// ErrInvalidMessage is returned for malformed or schema-violating messages.
	ErrInvalidMessage = errors.New("invalid instrumentation message")

	// ErrUnknownSession is returned when a message names no open session.
	ErrUnknownSession = errors.New("unknown session")
)

// SessionLookup finds open sessions by id.
type SessionLookup interface {
	Get(id string) *session.Session
}

// Dispatcher validates instrumentation messages and applies them to the
// session they name.
type Dispatcher struct {
	sessions SessionLookup
	envelope *validator
	payloads map[string]*validator
	metrics  *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics counts handled messages by type and result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher compiles the message schemas.
func NewDispatcher(sessions SessionLookup, opts ...Option) (*Dispatcher, error) {
	envelope, err := newValidator("envelope", &Envelope{})
	if err != nil {
		return nil, err
	}

	payloads := make(map[string]*validator, 3)
	for name, v := range map[string]any{
		TypeResourceRequested:    &ResourceRequested{},
		TypeWebsocketHandshake:   &WebsocketHandshake{},
		TypeDocumentUserActivity: &DocumentUserActivity{},
	} {
		payloads[name], err = newValidator(name, v)
		if err != nil {
			return nil, err
		}
	}

	d := &Dispatcher{
		sessions: sessions,
		envelope: envelope,
		payloads: payloads,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

type rawEnvelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

// Handle validates one message and applies it.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) error {
	msgType, err := d.handle(ctx, raw)
	switch {
	case err == nil:
		d.metrics.RecordMessage(msgType, "ok")
	case errors.Is(err, ErrUnknownSession):
		d.metrics.RecordMessage(msgType, "unknown_session")
	default:
		d.metrics.RecordMessage(msgType, "invalid")
		slog.DebugContext(ctx, "instrumentation message rejected",
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (d *Dispatcher) handle(ctx context.Context, raw []byte) (string, error) {
	const unknownType = "unknown"

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return unknownType, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := d.envelope.validate(doc); err != nil {
		return unknownType, err
	}

	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return unknownType, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := d.payloads[env.Type].validate(doc.(map[string]any)["payload"]); err != nil {
		return env.Type, err
	}

	s := d.sessions.Get(env.SessionID)
	if s == nil {
		return env.Type, fmt.Errorf("%w: %s", ErrUnknownSession, env.SessionID)
	}

	switch env.Type {
	case TypeResourceRequested:
		var msg ResourceRequested
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return env.Type, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		s.ReportBrowserResource(types.BrowserResource{
			BrowserRequestID: msg.BrowserRequestID,
			URL:              msg.URL,
			Method:           msg.Method,
			ResourceType:     types.ResourceTypeFromChrome(msg.ResourceType),
			DocumentURL:      msg.DocumentURL,
			HasUserGesture:   msg.HasUserGesture,
			IsUserNavigation: msg.IsUserNavigation,
		})

	case TypeWebsocketHandshake:
		var msg WebsocketHandshake
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return env.Type, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		s.ReportUpgradeHeaders(msg.BrowserRequestID, types.FromMap(msg.Headers))

	case TypeDocumentUserActivity:
		var msg DocumentUserActivity
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return env.Type, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		s.RecordDocumentUserActivity(msg.DocumentURL)
	}

	slog.DebugContext(ctx, "instrumentation message applied",
		slog.String("session_id", env.SessionID),
		slog.String("type", env.Type),
	)
	return env.Type, nil
}
