// Package progress provides the run events, the non-blocking Hub and the
// Tracker snapshot that report crawl progress. The Hub batches events on a
// background goroutine and fans them out to sinks such as structured logs,
// Prometheus collectors or the Tracker served on the admin endpoint.
package progress
