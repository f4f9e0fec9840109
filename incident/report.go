package incident

import (
	"net/http"

	"github.com/edgegate/edgegate/security"
)

// ReportContext carries the request-derived telemetry merged into an
// incident: request line data, client browser metadata, and the network
// and geolocation information extracted from trusted upstream headers.
// The raw client IP never leaves this struct; only its salted hash is
// persisted.
type ReportContext struct {
	Method         string
	Path           string
	Query          string
	Proto          string
	UserAgent      string
	Referrer       string
	Origin         string
	AcceptLanguage string
	Network        security.ClientNetwork
	UserID         string
	RequestID      string
	MatchedPattern string
	Details        map[string]any
}

// ContextFromRequest builds a ReportContext from an inbound request.
// Geolocation and network metadata are taken from trusted upstream proxy
// headers only, never inferred client-side.
func ContextFromRequest(r *http.Request, trustProxy bool, trustedProxyCount int) ReportContext {
	return ReportContext{
		Method:         r.Method,
		Path:           r.URL.Path,
		Query:          r.URL.RawQuery,
		Proto:          r.Proto,
		UserAgent:      r.UserAgent(),
		Referrer:       r.Referer(),
		Origin:         r.Header.Get("Origin"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Network:        security.GetClientNetwork(r, trustProxy, trustedProxyCount),
		RequestID:      security.RequestIDFromContext(r.Context()),
	}
}
