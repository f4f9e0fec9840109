// Package server exposes the internal operator API over HTTP: incident
// ingestion for remote gateway instances, incident listing and resolution,
// and the aggregated dashboard feed.
//
// Every /internal route is authenticated with a shared secret carried in
// the X-Internal-Secret header. The API is meant to be reachable only from
// the operator network; the shared secret is defense in depth, not the
// only wall.
package server
