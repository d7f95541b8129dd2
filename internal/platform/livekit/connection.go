package livekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
	"github.com/skypro1111/voice-moderation-service/internal/vad"
)

// maxOpusFrame is 120 ms at 48 kHz, the longest opus frame
const maxOpusFrame = 5760

var errClosed = errors.New("connection closed")

// connection is a joined LiveKit room that fans decoded audio out per identity
type connection struct {
	logger *slog.Logger
	config Config

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	room   *lksdk.Room
	hubs   map[string]*vad.Hub
	tracks map[string]bool // track SIDs being read
	closed bool
}

func newConnection(logger *slog.Logger, config Config) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		logger: logger,
		config: config,
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		hubs:   make(map[string]*vad.Hub),
		tracks: make(map[string]bool),
	}
}

func (c *connection) connect(url, token string) {
	callbacks := &lksdk.RoomCallback{
		OnDisconnected: func() {
			c.logger.Info("Disconnected from room")
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				c.handleTrack(track, rp.Identity())
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, callbacks)
	if err != nil {
		c.logger.Error("Failed to connect to room", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		room.Disconnect()
		return
	}
	c.room = room
	c.mu.Unlock()

	// tracks published before we joined
	for _, p := range room.GetRemoteParticipants() {
		for _, pub := range p.TrackPublications() {
			if pub.Kind() != lksdk.TrackKindAudio {
				continue
			}
			remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			if !remotePub.IsSubscribed() {
				remotePub.SetSubscribed(true)
			}
			if track := remotePub.Track(); track != nil {
				if remoteTrack, ok := track.(*webrtc.TrackRemote); ok {
					c.handleTrack(remoteTrack, p.Identity())
				}
			}
		}
	}

	c.logger.Info("Connected to room", slog.String("identity", room.LocalParticipant.Identity()))
	close(c.ready)
}

func (c *connection) Ready() <-chan struct{} {
	return c.ready
}

// Subscribe returns the next silence-bounded segment of identity's audio
func (c *connection) Subscribe(ctx context.Context, identity string) (io.ReadCloser, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errClosed
	}
	h := c.hubLocked(identity)
	c.mu.Unlock()

	sub, err := h.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", identity, err)
	}
	return sub, nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	room := c.room
	c.mu.Unlock()

	c.cancel()
	if room != nil {
		room.Disconnect()
	}
	c.wg.Wait()

	for identity, h := range c.hubs {
		stats := h.GetStats()
		c.logger.Info("Audio statistics",
			slog.String("identity", identity),
			slog.Uint64("windows", stats.Windows),
			slog.Float64("voice_percentage", stats.VoicePercentage),
			slog.Uint64("segments_ended", stats.SegmentsEnded),
			slog.Uint64("segments_cut", stats.SegmentsCut),
			slog.Duration("avg_segment", stats.AvgSegment),
			slog.Uint64("dropped_frames", stats.DroppedFrames),
			slog.Uint64("track_ends", stats.TrackEnds),
		)
	}
	return nil
}

func (c *connection) hubLocked(identity string) *vad.Hub {
	h, ok := c.hubs[identity]
	if !ok {
		h = vad.NewHub(vad.HubConfig{
			Threshold: c.config.VADThreshold,
			Gate: vad.GateConfig{
				SilenceDuration: c.config.SilenceDuration,
				MaxDuration:     c.config.MaxSegmentDuration,
			},
			TickInterval: vad.DefaultTickInterval,
		})
		c.hubs[identity] = h
	}
	return h
}

func (c *connection) handleTrack(track *webrtc.TrackRemote, identity string) {
	c.mu.Lock()
	if c.closed || c.tracks[track.ID()] {
		c.mu.Unlock()
		return
	}
	c.tracks[track.ID()] = true
	h := c.hubLocked(identity)
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.tracks, track.ID())
			c.mu.Unlock()
			h.EndTrack()
		}()
		c.readTrack(track, identity, h)
	}()
}

// readTrack reorders RTP packets, decodes opus and publishes interleaved PCM frames
func (c *connection) readTrack(track *webrtc.TrackRemote, identity string, h *vad.Hub) {
	logger := c.logger.With(slog.String("identity", identity), slog.String("track", track.ID()))

	decoder, err := opus.NewDecoder(c.config.SampleRate, c.config.Channels)
	if err != nil {
		logger.Error("Failed to create opus decoder", slog.String("error", err.Error()))
		return
	}

	reorderer := audio.NewReorderer(0)
	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	pcm := make([]int16, maxOpusFrame*c.config.Channels)

	logger.Info("Reading audio track")
	for {
		if c.ctx.Err() != nil {
			return
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if c.ctx.Err() == nil {
				logger.Info("Audio track ended", slog.String("error", err.Error()))
			}
			stats := reorderer.GetStats()
			logger.Debug("Track statistics",
				slog.Uint64("packets", stats.TotalPackets),
				slog.Uint64("lost", stats.LostPackets),
			)
			return
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			logger.Warn("Failed to unmarshal RTP packet", slog.String("error", err.Error()))
			continue
		}

		payloads, err := reorderer.Push(packet.SequenceNumber, packet.Payload)
		if err != nil {
			logger.Debug("Dropping packet", slog.String("error", err.Error()))
			continue
		}

		for _, payload := range payloads {
			// empty payloads are DTX, the gate timer covers the silence
			if len(payload) == 0 {
				continue
			}
			samples, err := decoder.Decode(payload, pcm)
			if err != nil {
				logger.Warn("Failed to decode opus", slog.String("error", err.Error()))
				continue
			}
			if samples == 0 {
				continue
			}

			frame := make([]int16, samples*c.config.Channels)
			copy(frame, pcm)
			h.Publish(vad.Frame{PCM: frame, At: time.Now()})
		}
	}
}
