// Package moderation decides whether an utterance breaks the denylist policy.
package moderation
