package types

import (
	"fmt"
	"time"
)

// RequestEvent is emitted when a new network transaction starts.
type RequestEvent struct {
	ID               int64   `json:"id"`
	Method           string  `json:"method"`
	URL              string  `json:"url"`
	Headers          Headers `json:"headers"`
	OriginalHeaders  Headers `json:"originalHeaders"`
	ServerALPN       string  `json:"serverAlpn,omitempty"`
	ClientALPN       string  `json:"clientAlpn,omitempty"`
	IsHTTP2Push      bool    `json:"isHttp2Push"`
	DidBlockResource bool    `json:"didBlockResource"`
	LocalAddress     string  `json:"localAddress,omitempty"`
}

// ResponseEvent is emitted when a transaction completes.
type ResponseEvent struct {
	RequestEvent

	BrowserRequestID string        `json:"browserRequestId,omitempty"`
	StatusCode       int           `json:"statusCode"`
	ResponseHeaders  Headers       `json:"responseHeaders,omitempty"`
	ResourceType     ResourceType  `json:"resourceType"`
	Body             []byte        `json:"body,omitempty"`
	WasCached        bool          `json:"wasCached"`
	RedirectedToURL  string        `json:"redirectedToUrl,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// HTTPErrorEvent is emitted when a transaction fails at the network layer.
type HTTPErrorEvent struct {
	URL    string            `json:"url"`
	Method string            `json:"method"`
	Error  *TransactionError `json:"-"`
}

// TransactionError records a network-layer failure of a tracked transaction.
type TransactionError struct {
	URL    string
	Method string
	Err    error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
