// Package capture writes silence-bounded raw PCM segments for the recorded target.
package capture
