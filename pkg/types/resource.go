package types

// ResourceType classifies what a network transaction loads.
type ResourceType string

// Resource types
const (
	ResourceDocument           ResourceType = "Document"
	ResourceRedirect           ResourceType = "Redirect"
	ResourceWebsocket          ResourceType = "Websocket"
	ResourceIco                ResourceType = "Ico"
	ResourcePreflight          ResourceType = "Preflight"
	ResourceScript             ResourceType = "Script"
	ResourceStylesheet         ResourceType = "Stylesheet"
	ResourceXHR                ResourceType = "Xhr"
	ResourceFetch              ResourceType = "Fetch"
	ResourceImage              ResourceType = "Image"
	ResourceMedia              ResourceType = "Media"
	ResourceFont               ResourceType = "Font"
	ResourceTextTrack          ResourceType = "Text Track"
	ResourceEventSource        ResourceType = "Event Source"
	ResourceManifest           ResourceType = "Manifest"
	ResourceSignedExchange     ResourceType = "Signed Exchange"
	ResourcePing               ResourceType = "Ping"
	ResourceCSPViolationReport ResourceType = "CSP Violation Report"
	ResourceOther              ResourceType = "Other"
)

// chromeResourceTypes maps DevTools Network.ResourceType values.
var chromeResourceTypes = map[string]ResourceType{
	"Document":           ResourceDocument,
	"Stylesheet":         ResourceStylesheet,
	"Image":              ResourceImage,
	"Media":              ResourceMedia,
	"Font":               ResourceFont,
	"Script":             ResourceScript,
	"TextTrack":          ResourceTextTrack,
	"XHR":                ResourceXHR,
	"Fetch":              ResourceFetch,
	"EventSource":        ResourceEventSource,
	"WebSocket":          ResourceWebsocket,
	"Manifest":           ResourceManifest,
	"SignedExchange":     ResourceSignedExchange,
	"Ping":               ResourcePing,
	"CSPViolationReport": ResourceCSPViolationReport,
	"Preflight":          ResourcePreflight,
	"Other":              ResourceOther,
}

// ResourceTypeFromChrome converts a DevTools resource type name.
// Unknown or empty names map to ResourceOther.
func ResourceTypeFromChrome(name string) ResourceType {
	if rt, ok := chromeResourceTypes[name]; ok {
		return rt
	}
	return ResourceOther
}

// BrowserResource is the metadata the instrumentation channel reports for a
// request the browser is about to send.
type BrowserResource struct {
	BrowserRequestID string       `json:"browserRequestId"`
	URL              string       `json:"url"`
	Method           string       `json:"method"`
	ResourceType     ResourceType `json:"resourceType"`
	DocumentURL      string       `json:"documentUrl,omitempty"`
	HasUserGesture   bool         `json:"hasUserGesture"`
	IsUserNavigation bool         `json:"isUserNavigation"`

	// OriginType is computed by the proxy side when the resource is awaited;
	// it is never reported by the browser.
	OriginType OriginType `json:"originType,omitempty"`
}

// UpgradeLookup identifies the session and browser request that announced a
// protocol upgrade.
type UpgradeLookup struct {
	SessionID        string `json:"sessionId"`
	BrowserRequestID string `json:"browserRequestId"`
}
