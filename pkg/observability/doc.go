// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry bootstrap and request instrumentation for lectern.
//
// Logging is JSON via logrus. Every request gets a logger carrying its
// request_id, retrievable with FromContext:
//
//	observability.FromContext(r.Context()).WithField("order_id", id).Info("order activated")
//
// Metrics methods are nil-safe so services can run without a registry in tests.
package observability
