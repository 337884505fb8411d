// Package metrics defines the Prometheus metrics of the service. Metrics
// observes capture sessions and remote requests directly, so it can be
// passed wherever a capture.Observer or remote.Observer is accepted.
package metrics
