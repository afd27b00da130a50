// Package origin classifies how a request's initiator relates to its target.
package origin

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/usestring/mitmsession/pkg/types"
)

// Classify determines the origin type of a request to target.
//
// A Sec-Fetch-Site header sent by the browser is authoritative. Otherwise the
// initiator is taken from the Origin header, then the Referer, then
// documentURL (the navigating document already known for the request).
// With no initiator at all the request is a user-initiated "none".
func Classify(target *url.URL, headers types.Headers, documentURL string) types.OriginType {
	if ot, ok := types.ParseOriginType(strings.ToLower(headers.Get("Sec-Fetch-Site"))); ok {
		return ot
	}

	initiator := firstNonEmpty(headers.Get("Origin"), headers.Get("Referer"), documentURL)
	if initiator == "" || initiator == "null" {
		return types.OriginNone
	}

	from, err := url.Parse(initiator)
	if err != nil || from.Host == "" {
		return types.OriginNone
	}

	return Compare(from, target)
}

// Compare relates two URLs as same-origin, same-site or cross-site.
func Compare(from, to *url.URL) types.OriginType {
	if strings.EqualFold(from.Scheme, to.Scheme) && strings.EqualFold(from.Host, to.Host) {
		return types.OriginSameOrigin
	}
	if site(from) != "" && site(from) == site(to) {
		return types.OriginSameSite
	}
	return types.OriginCrossSite
}

// site returns the registrable domain (eTLD+1) of u, falling back to the bare
// hostname for IPs, localhost and other hosts without a public suffix.
func site(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
