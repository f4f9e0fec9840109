package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientNetwork is the network-level metadata extracted for one request.
// Geolocation fields come exclusively from trusted upstream proxy headers
// (CDN or load balancer); they are never inferred from client-supplied data
// when proxy trust is disabled.
type ClientNetwork struct {
	IP          string
	Country     string
	Region      string
	City        string
	ASN         string
	ForwardedBy string
}

// GetClientIP extracts the real client IP address from the request.
// Supports X-Forwarded-For and X-Real-IP headers when behind a proxy.
//
// Only enable trustProxy when behind a trusted reverse proxy.
// X-Forwarded-For format is "client, proxy1, proxy2, ..."; trustedProxyCount
// says how many proxies to trust from the right, which prevents
// X-Forwarded-For spoofing in multi-proxy setups.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := validIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// GetClientNetwork extracts the client IP plus the geolocation and network
// metadata the trusted upstream proxy attached. With trustProxy disabled,
// only the direct connection IP is returned: geolocation headers from an
// untrusted peer are attacker-controlled.
func GetClientNetwork(r *http.Request, trustProxy bool, trustedProxyCount int) ClientNetwork {
	cn := ClientNetwork{
		IP: GetClientIP(r, trustProxy, trustedProxyCount),
	}
	if !trustProxy {
		return cn
	}

	// Header names follow the common CDN conventions (Cloudflare, Vercel,
	// Fastly); first non-empty wins.
	cn.Country = firstHeader(r, "CF-IPCountry", "X-Vercel-IP-Country", "X-Geo-Country")
	cn.Region = firstHeader(r, "X-Vercel-IP-Country-Region", "X-Geo-Region")
	cn.City = firstHeader(r, "X-Vercel-IP-City", "X-Geo-City")
	cn.ASN = firstHeader(r, "X-ASN", "CF-ASN")
	cn.ForwardedBy = r.Header.Get("X-Forwarded-Host")
	return cn
}

func firstHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// ipFromForwardedFor parses X-Forwarded-For and extracts the client IP.
// The rightmost entries are the trusted proxies we control, so the client
// sits at len(ips) - trustedProxyCount - 1. With trustedProxyCount of zero
// one trusted proxy is assumed; if the list is too short the leftmost entry
// is used.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	clientIndex := len(ips) - proxyCount - 1
	if clientIndex < 0 {
		clientIndex = 0
	}
	return validIP(ips[clientIndex])
}

// validIP returns the trimmed candidate if it parses as an IP, "" otherwise.
func validIP(candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return ""
	}
	if net.ParseIP(candidate) != nil {
		return candidate
	}
	return ""
}

// ipFromRemoteAddr extracts the IP of the direct connection.
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
