// Package metrics defines the Prometheus counters exported by mailtmpl and
// the HTTP handler that serves them.
package metrics
