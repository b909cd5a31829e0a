// Package adapter bridges a disgo gateway client to the player layer:
// it translates the platform's voice events into the two internal
// handshake signals and forwards voice-channel join/leave requests.
package adapter

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/shi-gg/linkdave-go/client/player"
)

var ErrNoClient = errors.New("no gateway client attached")

// Adapter implements player.VoiceAdapter on top of a disgo client.
// Register HandleReady, HandleVoiceServerUpdate and
// HandleGuildVoiceStateUpdate as event listeners when constructing the
// client, then attach it with SetClient.
type Adapter struct {
	logger *slog.Logger

	mu        sync.RWMutex
	client    *bot.Client
	info      player.BotInfo
	ready     bool
	serverFns []func(player.VoiceServerUpdate)
	stateFns  []func(player.VoiceStateUpdate)

	readyChan chan struct{}
	readyOnce sync.Once
}

func New(logger *slog.Logger) *Adapter {
	return &Adapter{
		logger:    logger,
		readyChan: make(chan struct{}),
	}
}

func (a *Adapter) SetClient(client *bot.Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = client
}

// HandleReady captures the bot identity from the gateway ready event.
func (a *Adapter) HandleReady(event *events.Ready) {
	shardCount := event.Shard[1]
	if shardCount == 0 {
		shardCount = 1
	}

	a.mu.Lock()
	a.info = player.BotInfo{
		UserID:     event.User.ID,
		ShardCount: shardCount,
	}
	a.ready = true
	a.mu.Unlock()

	a.readyOnce.Do(func() {
		close(a.readyChan)
	})

	a.logger.Info("gateway ready",
		slog.String("user_id", event.User.ID.String()),
		slog.Int("shard_count", shardCount),
	)
}

// HandleVoiceServerUpdate forwards voice-server credentials.
func (a *Adapter) HandleVoiceServerUpdate(event *events.VoiceServerUpdate) {
	if event.Endpoint == nil {
		// No endpoint means the voice server went away; a new update
		// with credentials will follow.
		return
	}

	update := player.VoiceServerUpdate{
		GuildID:  event.GuildID,
		Token:    event.Token,
		Endpoint: *event.Endpoint,
	}

	a.mu.RLock()
	fns := a.serverFns
	a.mu.RUnlock()

	for _, fn := range fns {
		fn(update)
	}
}

// HandleGuildVoiceStateUpdate forwards the bot user's own voice state.
func (a *Adapter) HandleGuildVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	a.mu.RLock()
	selfID := a.info.UserID
	fns := a.stateFns
	a.mu.RUnlock()

	if event.VoiceState.UserID != selfID {
		return
	}

	update := player.VoiceStateUpdate{
		GuildID:   event.VoiceState.GuildID,
		ChannelID: event.VoiceState.ChannelID,
		SessionID: event.VoiceState.SessionID,
	}

	for _, fn := range fns {
		fn(update)
	}
}

func (a *Adapter) SendVoiceUpdate(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID, selfDeaf, selfMute bool) error {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()

	if client == nil {
		return ErrNoClient
	}
	return client.UpdateVoiceState(ctx, guildID, channelID, selfMute, selfDeaf)
}

func (a *Adapter) WaitForReady(ctx context.Context) (player.BotInfo, error) {
	select {
	case <-a.readyChan:
	case <-ctx.Done():
		return player.BotInfo{}, ctx.Err()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info, nil
}

func (a *Adapter) OnVoiceServerUpdate(fn func(update player.VoiceServerUpdate)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.serverFns = append(a.serverFns, fn)
}

func (a *Adapter) OnVoiceStateUpdate(fn func(update player.VoiceStateUpdate)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateFns = append(a.stateFns, fn)
}
