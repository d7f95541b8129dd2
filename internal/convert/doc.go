// Package convert turns raw s16le segment files into WAV files, either through
// an ffmpeg subprocess or in process.
package convert
