package types

// TrackedRequest is the permanent record of one network transaction within
// a session. The redirect fields are derived when the request is tracked and
// are not changed afterwards.
type TrackedRequest struct {
	ID               int64        `json:"id"`
	BrowserRequestID string       `json:"browserRequestId,omitempty"`
	URL              string       `json:"url"`
	OriginalURL      string       `json:"originalUrl,omitempty"`
	Method           string       `json:"method"`
	RedirectedToURL  string       `json:"redirectedToUrl,omitempty"`
	OriginalHeaders  Headers      `json:"originalHeaders,omitempty"`
	ResourceType     ResourceType `json:"resourceType,omitempty"`
	StatusCode       int          `json:"statusCode,omitempty"`

	// Derived by the redirect tracker
	IsFromRedirect      bool   `json:"isFromRedirect"`
	PreviousURL         string `json:"previousUrl,omitempty"`
	FirstRedirectingURL string `json:"firstRedirectingUrl,omitempty"`
}
