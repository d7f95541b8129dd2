// Package session owns the recording session for a single target.
//
// Controller.Start resolves the target's voice channel, joins it and runs a
// per-session loop that arms one capture.Writer at a time. Every finished
// segment reserves a queue slot in capture order and is converted in its own
// goroutine, while the loop re-arms immediately. Stop bumps the session
// generation so late completions never arm a new writer.
package session
