// Package server implements the HTTP command surface. POST /record and
// POST /stoprecord drive the recording session, while the GET endpoints
// expose session state, queue statistics, sanitized configuration and
// Prometheus metrics.
package server
