// Package async provides panic-safe goroutine helpers.
//
// SafeGo runs long-lived background work (the catalog watcher) with panic
// recovery and error logging. Batch fans a slice of items out over a bounded
// worker pool and collects errors, which the reconcile sweep uses to process
// institutes in parallel.
package async
