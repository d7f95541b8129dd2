package livekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/skypro1111/voice-moderation-service/internal/session"
)

// ErrParticipantNotFound is returned when no room holds the identity
var ErrParticipantNotFound = errors.New("participant not found")

// Config contains LiveKit connection and audio settings
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	Identity  string
	Rooms     []string // rooms to search, empty means all

	SampleRate         int
	Channels           int
	SilenceDuration    time.Duration
	MaxSegmentDuration time.Duration
	VADThreshold       float32
}

// Platform implements session.Platform on a LiveKit server. Rooms are channels
// and participant identities are targets.
type Platform struct {
	logger *slog.Logger
	config Config
	rooms  *lksdk.RoomServiceClient
}

// New creates a LiveKit platform
func New(logger *slog.Logger, config Config) *Platform {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}

	return &Platform{
		logger: logger,
		config: config,
		rooms:  lksdk.NewRoomServiceClient(config.URL, config.APIKey, config.APISecret),
	}
}

// Rooms lists the names of the rooms the service may search
func (p *Platform) Rooms(ctx context.Context) ([]string, error) {
	resp, err := p.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{Names: p.config.Rooms})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	names := make([]string, 0, len(resp.Rooms))
	for _, room := range resp.Rooms {
		names = append(names, room.Name)
	}
	return names, nil
}

// Locate returns the room in which target publishes an unmuted audio track
func (p *Platform) Locate(ctx context.Context, target string) (string, error) {
	room, info, err := p.find(ctx, target)
	if err != nil {
		return "", err
	}

	for _, track := range info.Tracks {
		if track.Type == livekit.TrackType_AUDIO && !track.Muted {
			return room, nil
		}
	}
	return "", fmt.Errorf("%s is in room %s without an audio track", target, room)
}

// Remove kicks target from its room. LiveKit has no kick reason, it is only logged.
func (p *Platform) Remove(ctx context.Context, target, reason string) error {
	room, _, err := p.find(ctx, target)
	if err != nil {
		return err
	}

	_, err = p.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     room,
		Identity: target,
	})
	if err != nil {
		return fmt.Errorf("remove participant %s from %s: %w", target, room, err)
	}

	p.logger.Info("Removed participant",
		slog.String("room", room),
		slog.String("identity", target),
		slog.String("reason", reason),
	)
	return nil
}

func (p *Platform) find(ctx context.Context, target string) (string, *livekit.ParticipantInfo, error) {
	rooms, err := p.Rooms(ctx)
	if err != nil {
		return "", nil, err
	}

	for _, room := range rooms {
		resp, err := p.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
		if err != nil {
			p.logger.Warn("Failed to list participants",
				slog.String("room", room),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, participant := range resp.Participants {
			if participant.Identity == target {
				return room, participant, nil
			}
		}
	}

	return "", nil, fmt.Errorf("%s: %w", target, ErrParticipantNotFound)
}

// Join connects to room in the background. Ready closes once the room is joined.
func (p *Platform) Join(ctx context.Context, room string) (session.Connection, error) {
	token, err := p.token(room)
	if err != nil {
		return nil, err
	}

	conn := newConnection(p.logger.With(slog.String("room", room)), p.config)
	go conn.connect(p.config.URL, token)

	return conn, nil
}

func (p *Platform) token(room string) (string, error) {
	canPublish := false
	canSubscribe := true

	at := auth.NewAccessToken(p.config.APIKey, p.config.APISecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin:     true,
		Room:         room,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	})
	at.SetIdentity(p.config.Identity)
	at.SetValidFor(24 * time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("build access token: %w", err)
	}
	return token, nil
}
