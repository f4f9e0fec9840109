// Package instrumentation provides OpenTelemetry metrics and tracing for
// the edgegate library.
//
// The package is built around a single Instrumentation value created once
// at startup and handed to the components that record telemetry. When
// disabled, all providers are no-op implementations with zero overhead, so
// call sites never need to guard their recording calls.
//
// # Usage
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "edgegate",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(ctx)
//
//	inst.Metrics().RecordRequestBlocked(ctx, "honeypot")
//
// # Privacy
//
// Telemetry never carries raw client IPs. Components record the salted
// hash prefix produced by security.IPHasher when an origin attribute is
// needed at all.
package instrumentation
