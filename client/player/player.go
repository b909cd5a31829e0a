package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/shi-gg/linkdave-go/client/node"
	"github.com/shi-gg/linkdave-go/client/protocol"
	"github.com/shi-gg/linkdave-go/client/queue"
	"github.com/shi-gg/linkdave-go/client/rest"
)

// ErrPlayerDestroyed is returned by any command issued after the player
// reached its terminal state.
var ErrPlayerDestroyed = errors.New("player is destroyed")

// Lifecycle is the player's state machine. Destroyed is terminal.
type Lifecycle int

const (
	LifecycleNotPlaying Lifecycle = iota
	LifecyclePlaying
	LifecyclePaused
	LifecycleDestroyed
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleNotPlaying:
		return "not_playing"
	case LifecyclePlaying:
		return "playing"
	case LifecyclePaused:
		return "paused"
	case LifecycleDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// NodeContext is the slice of the node the player layer depends on.
// *node.Node implements it.
type NodeContext interface {
	SessionID() string
	WaitForReady(ctx context.Context) (string, error)
	Rest() rest.Client
}

// GuildPlayer is one guild's realized player as stored by the manager.
// The base Player implements it; QueuedPlayer decorates it.
type GuildPlayer interface {
	node.PlayerListener

	GuildID() snowflake.ID
	Lifecycle() Lifecycle
	Destroyed() bool
	Disconnect(ctx context.Context) error

	// NotifyChannelUpdate is an in-place notification for voice-state
	// changes arriving after realization (e.g. the bot was moved).
	NotifyChannelUpdate(channelID *snowflake.ID)

	// NotifyVoiceUpdate pushes refreshed voice credentials to the node.
	NotifyVoiceUpdate(voice protocol.VoiceState)
}

// Context is the constructor-injected wiring passed down from the node
// through the manager and handle to every player.
type Context struct {
	Logger    *slog.Logger
	Node      NodeContext
	Adapter   VoiceAdapter
	GuildID   snowflake.ID
	ChannelID *snowflake.ID
	OnDestroy func()
}

// Factory builds the concrete player from the node's authoritative
// snapshot the moment the voice handshake completes.
type Factory func(ctx Context, snapshot protocol.Player) GuildPlayer

// NewPlayer is the default Factory.
func NewPlayer(ctx Context, snapshot protocol.Player) GuildPlayer {
	return newPlayer(ctx, snapshot)
}

// Player is the base per-guild player. All mutations come from REST
// snapshots (authoritative) or from node notifications.
type Player struct {
	logger  *slog.Logger
	node    NodeContext
	adapter VoiceAdapter
	guildID snowflake.ID

	onDestroy func()

	mu        sync.Mutex
	lifecycle Lifecycle
	track     *protocol.Track
	paused    bool
	volume    int
	position  int64
	connected bool
	channelID *snowflake.ID
}

func newPlayer(ctx Context, snapshot protocol.Player) *Player {
	p := &Player{
		logger:    ctx.Logger.With(slog.String("guild_id", ctx.GuildID.String())),
		node:      ctx.Node,
		adapter:   ctx.Adapter,
		guildID:   ctx.GuildID,
		channelID: ctx.ChannelID,
		onDestroy: ctx.OnDestroy,
	}
	p.applySnapshot(snapshot)
	return p
}

func (p *Player) GuildID() snowflake.ID {
	return p.guildID
}

func (p *Player) Lifecycle() Lifecycle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lifecycle
}

func (p *Player) Destroyed() bool {
	return p.Lifecycle() == LifecycleDestroyed
}

// Track returns the currently playing track, if any.
func (p *Player) Track() (protocol.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return protocol.Track{}, false
	}
	return *p.track, true
}

func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Position returns the last known playback position in milliseconds.
func (p *Player) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Player) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Player) ChannelID() *snowflake.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelID
}

// Play starts the referenced track, replacing whatever is playing.
func (p *Player) Play(ctx context.Context, reference queue.TrackReference) error {
	props := protocol.PlayerUpdateProperties{}
	if track, ok := reference.Track(); ok {
		props.EncodedTrack = protocol.NewNullable(track.Encoded)
	} else {
		identifier := reference.Identifier()
		props.Identifier = &identifier
	}
	return p.update(ctx, props)
}

// Stop halts playback without leaving the voice channel.
func (p *Player) Stop(ctx context.Context) error {
	return p.update(ctx, protocol.PlayerUpdateProperties{
		EncodedTrack: protocol.Null[string](),
	})
}

func (p *Player) Pause(ctx context.Context) error {
	return p.setPaused(ctx, true)
}

func (p *Player) Resume(ctx context.Context) error {
	return p.setPaused(ctx, false)
}

func (p *Player) setPaused(ctx context.Context, paused bool) error {
	return p.update(ctx, protocol.PlayerUpdateProperties{Paused: &paused})
}

// Seek moves playback to the given position in milliseconds.
func (p *Player) Seek(ctx context.Context, positionMs int64) error {
	return p.update(ctx, protocol.PlayerUpdateProperties{Position: &positionMs})
}

func (p *Player) SetVolume(ctx context.Context, volume int) error {
	return p.update(ctx, protocol.PlayerUpdateProperties{Volume: &volume})
}

// update issues one sparse player update and absorbs the returned
// authoritative snapshot.
func (p *Player) update(ctx context.Context, props protocol.PlayerUpdateProperties) error {
	if p.Destroyed() {
		return ErrPlayerDestroyed
	}

	snapshot, err := p.node.Rest().UpdatePlayer(ctx, p.node.SessionID(), p.guildID, props)
	if err != nil {
		return fmt.Errorf("failed to update player: %w", err)
	}

	p.applySnapshot(snapshot)
	return nil
}

func (p *Player) applySnapshot(snapshot protocol.Player) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lifecycle == LifecycleDestroyed {
		return
	}

	p.track = snapshot.Track
	p.paused = snapshot.Paused
	p.volume = snapshot.Volume
	p.position = snapshot.State.Position
	p.connected = snapshot.State.Connected

	switch {
	case snapshot.Track == nil:
		p.lifecycle = LifecycleNotPlaying
	case snapshot.Paused:
		p.lifecycle = LifecyclePaused
	default:
		p.lifecycle = LifecyclePlaying
	}
}

// Disconnect leaves the voice channel, destroys the node-side player
// and moves the player to its terminal state.
func (p *Player) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.lifecycle == LifecycleDestroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	p.lifecycle = LifecycleDestroyed
	p.track = nil
	p.mu.Unlock()

	if err := p.adapter.SendVoiceUpdate(ctx, p.guildID, nil, false, false); err != nil {
		p.logger.Error("failed to send voice disconnect", slog.Any("error", err))
	}

	if err := p.node.Rest().DestroyPlayer(ctx, p.node.SessionID(), p.guildID); err != nil {
		p.logger.Error("failed to destroy node player", slog.Any("error", err))
	}

	if p.onDestroy != nil {
		p.onDestroy()
	}

	p.logger.Info("player disconnected")
	return nil
}

func (p *Player) NotifyPlayerUpdate(state protocol.PlayerState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lifecycle == LifecycleDestroyed {
		return
	}
	p.position = state.Position
	p.connected = state.Connected
}

func (p *Player) NotifyTrackStart(track protocol.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lifecycle == LifecycleDestroyed {
		return
	}
	p.track = &track
	if !p.paused {
		p.lifecycle = LifecyclePlaying
	}
}

func (p *Player) NotifyTrackEnd(track protocol.Track, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lifecycle == LifecycleDestroyed {
		return
	}
	p.track = nil
	p.position = 0
	p.lifecycle = LifecycleNotPlaying

	p.logger.Debug("track ended",
		slog.String("identifier", track.Info.Identifier),
		slog.String("reason", reason),
	)
}

func (p *Player) NotifyTrackException(track protocol.Track, exception protocol.Exception) {
	p.logger.Warn("track exception",
		slog.String("identifier", track.Info.Identifier),
		slog.String("severity", exception.Severity),
		slog.String("message", exception.Message),
	)
}

func (p *Player) NotifyTrackStuck(track protocol.Track, thresholdMs int64) {
	p.logger.Warn("track stuck",
		slog.String("identifier", track.Info.Identifier),
		slog.Int64("threshold_ms", thresholdMs),
	)
}

func (p *Player) NotifyWebSocketClosed(code int, reason string, byRemote bool) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.logger.Warn("voice websocket closed",
		slog.Int("code", code),
		slog.String("reason", reason),
		slog.Bool("by_remote", byRemote),
	)
}

func (p *Player) NotifyChannelUpdate(channelID *snowflake.ID) {
	p.mu.Lock()
	p.channelID = channelID
	p.mu.Unlock()

	if channelID == nil {
		p.logger.Info("bot left voice channel")
		return
	}
	p.logger.Info("bot moved to voice channel", slog.String("channel_id", channelID.String()))
}

func (p *Player) NotifyVoiceUpdate(voice protocol.VoiceState) {
	if p.Destroyed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.update(ctx, protocol.PlayerUpdateProperties{Voice: &voice}); err != nil {
		p.logger.Error("failed to push voice update", slog.Any("error", err))
	}
}
