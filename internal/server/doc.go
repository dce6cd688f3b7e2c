// Package server exposes the HTTP API used to start, inspect and stop
// meeting sessions, along with health, configuration and Prometheus
// monitoring endpoints.
package server
