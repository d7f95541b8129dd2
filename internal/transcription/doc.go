// Package transcription turns WAV files into utterances.
// Command runs a local recognizer process and parses its stdout line by line;
// Client posts the file to a remote API with retry and exponential backoff.
package transcription
