// Package audio holds the PCM helpers shared by capture and transcription.
// It implements RTP payload reordering, WAV encoding and decoding, and stereo to mono downmix.
package audio
