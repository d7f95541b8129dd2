// Package queue serialises transcription of converted clips.
//
// Slots are reserved in capture order when a segment closes and become runnable
// when conversion finishes. A single drain goroutine takes runnable slots from
// the head one at a time, transcribes the clip, evaluates every utterance
// against the moderation policy, forwards violations, and deletes the clip and
// its mono intermediate before looking at the next slot.
package queue
