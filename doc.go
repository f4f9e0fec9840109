// Package edgegate is an edge security and abuse-mitigation layer for web
// services. It sits in front of application handlers as a middleware chain
// and provides:
//
//   - request classification against decoy paths, malicious URL patterns,
//     and scanner signatures (guard)
//   - per-client, per-route-class rate limiting with violation escalation
//     (ratelimit), plus an exact transactional limiter for login-style flows
//   - per-request security headers with a fresh CSP nonce (security)
//   - fire-and-forget security incident reporting, aggregation, and an
//     operator API (incident, server)
//   - authenticated field-level encryption with blind indexes (fieldcrypt)
//   - session tracking and login anomaly signals (session)
//
// The Gateway type in this package wires the edge-facing pieces into one
// http.Handler middleware. The other packages are usable on their own.
package edgegate
