// Package instrument ingests the JSON messages the in-browser instrumentation
// sends about requests it is about to make, and routes them to the session
// they belong to.
package instrument

// Message types
const (
	TypeResourceRequested    = "resourceRequested"
	TypeWebsocketHandshake   = "websocketHandshake"
	TypeDocumentUserActivity = "documentUserActivity"
)

// Envelope is the outer frame of every instrumentation message.
type Envelope struct {
	Type      string `json:"type" jsonschema:"enum=resourceRequested,enum=websocketHandshake,enum=documentUserActivity"`
	SessionID string `json:"sessionId" jsonschema:"minLength=1"`
	Payload   any    `json:"payload"`
}

// ResourceRequested reports the metadata of a request the browser will send.
// ResourceType uses the DevTools Network.ResourceType vocabulary.
type ResourceRequested struct {
	BrowserRequestID string `json:"browserRequestId" jsonschema:"minLength=1"`
	URL              string `json:"url" jsonschema:"minLength=1"`
	Method           string `json:"method" jsonschema:"minLength=1"`
	ResourceType     string `json:"resourceType,omitempty"`
	DocumentURL      string `json:"documentUrl,omitempty"`
	HasUserGesture   bool   `json:"hasUserGesture,omitempty"`
	IsUserNavigation bool   `json:"isUserNavigation,omitempty"`
}

// WebsocketHandshake reports the headers of an upgrade request before the
// browser sends it.
type WebsocketHandshake struct {
	BrowserRequestID string            `json:"browserRequestId" jsonschema:"minLength=1"`
	Headers          map[string]string `json:"headers"`
}

// DocumentUserActivity reports a user interaction with a document.
type DocumentUserActivity struct {
	DocumentURL string `json:"documentUrl" jsonschema:"minLength=1"`
}
