// Package config provides configuration loading and validation for the voice moderation service.
// It handles YAML-based configuration with per-section validation, optional .env loading and
// environment overrides for LiveKit and transcription credentials.
package config
