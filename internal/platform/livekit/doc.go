// Package livekit adapts a LiveKit server to the session platform.
//
// Presence and removal go through the room service API. Joining connects a
// subscribe-only participant; every remote audio track is read as RTP,
// reordered, opus-decoded to interleaved s16le and fanned out per identity.
// Each Subscribe wraps a fresh frame subscription in a vad.GatedReader so the
// reader ends after the configured silence gap.
package livekit
