// Package server exposes template rendering and mail sending over a small
// HTTP API, along with health and metrics endpoints.
package server
