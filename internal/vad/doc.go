// Package vad provides energy-based voice activity detection and the silence gate
// that splits a continuous frame stream into speech segments. GatedReader exposes
// one segment as an io.ReadCloser that ends after the configured silence gap.
package vad
