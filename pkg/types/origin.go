package types

// OriginType describes how a request's initiator relates to its target,
// following the Sec-Fetch-Site vocabulary.
type OriginType string

// Origin types
const (
	OriginNone       OriginType = "none"
	OriginSameOrigin OriginType = "same-origin"
	OriginSameSite   OriginType = "same-site"
	OriginCrossSite  OriginType = "cross-site"
)

// ParseOriginType converts a Sec-Fetch-Site value. ok is false for values
// outside the known vocabulary.
func ParseOriginType(s string) (OriginType, bool) {
	switch OriginType(s) {
	case OriginNone, OriginSameOrigin, OriginSameSite, OriginCrossSite:
		return OriginType(s), true
	}
	return "", false
}
