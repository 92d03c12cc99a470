// Package sinks implements progress.Sink consumers for Prometheus and
// structured logs.
package sinks
