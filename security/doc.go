// Package security provides the edge hardening primitives shared by the
// gateway: per-request content-security-policy nonces with the static
// hardening header bundle, trusted-proxy client IP and network metadata
// extraction, request ID generation and propagation, and privacy-preserving
// client identifier hashing.
//
// Everything in this package runs synchronously on the request path and is
// designed to add negligible latency. Header construction never fails: any
// internal error degrades to the static header bundle rather than surfacing
// to the caller.
package security
