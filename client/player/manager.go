package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/shi-gg/linkdave-go/client/node"
)

// ManagerConfig tunes how players are built.
type ManagerConfig struct {
	// Factory builds the concrete player; defaults to NewPlayer.
	Factory Factory

	// InitialVolume, when positive, is sent with the creating update.
	InitialVolume int

	SelfDeaf bool
	SelfMute bool
}

// Manager is the per-guild handle registry. It subscribes to the
// platform adapter's voice events and routes them to the matching
// handle; events for guilds without a handle are swallowed. It also
// implements node.PlayerResolver.
type Manager struct {
	logger  *slog.Logger
	node    NodeContext
	adapter VoiceAdapter
	config  ManagerConfig

	mu      sync.RWMutex
	handles map[snowflake.ID]*Handle
}

func NewManager(logger *slog.Logger, n NodeContext, adapter VoiceAdapter, config ManagerConfig) *Manager {
	if config.Factory == nil {
		config.Factory = NewPlayer
	}

	m := &Manager{
		logger:  logger,
		node:    n,
		adapter: adapter,
		config:  config,
		handles: make(map[snowflake.ID]*Handle),
	}

	adapter.OnVoiceServerUpdate(m.onVoiceServerUpdate)
	adapter.OnVoiceStateUpdate(m.onVoiceStateUpdate)

	return m
}

// Join connects the bot to a voice channel and returns the guild's
// player once the voice handshake completes. Concurrent joins for the
// same guild share one handle and resolve to the same player.
func (m *Manager) Join(ctx context.Context, guildID, channelID snowflake.ID) (GuildPlayer, error) {
	handle := m.getOrCreateHandle(guildID)

	if err := m.adapter.SendVoiceUpdate(ctx, guildID, &channelID, m.config.SelfDeaf, m.config.SelfMute); err != nil {
		return nil, fmt.Errorf("failed to request voice channel join: %w", err)
	}

	return handle.Player(ctx)
}

// Leave asks the platform gateway to disconnect from voice. The
// resulting voice-state update drives the rest.
func (m *Manager) Leave(ctx context.Context, guildID snowflake.ID) error {
	return m.adapter.SendVoiceUpdate(ctx, guildID, nil, false, false)
}

// Handle returns the guild's handle, if one exists.
func (m *Manager) Handle(guildID snowflake.ID) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handle, ok := m.handles[guildID]
	return handle, ok
}

// Player returns the guild's realized player, if one exists.
func (m *Manager) Player(guildID snowflake.ID) (GuildPlayer, bool) {
	handle, ok := m.Handle(guildID)
	if !ok {
		return nil, false
	}
	return handle.Realized()
}

func (m *Manager) HasPlayer(guildID snowflake.ID) bool {
	_, ok := m.Player(guildID)
	return ok
}

// Players enumerates realized, non-destroyed players.
func (m *Manager) Players() []GuildPlayer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	players := make([]GuildPlayer, 0, len(m.handles))
	for _, handle := range m.handles {
		if player, ok := handle.Realized(); ok && !player.Destroyed() {
			players = append(players, player)
		}
	}
	return players
}

// ResolvePlayerListener implements node.PlayerResolver.
func (m *Manager) ResolvePlayerListener(guildID snowflake.ID) (node.PlayerListener, bool) {
	player, ok := m.Player(guildID)
	if !ok || player.Destroyed() {
		return nil, false
	}
	return player, true
}

func (m *Manager) getOrCreateHandle(guildID snowflake.ID) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if handle, ok := m.handles[guildID]; ok && !handle.Failed() {
		return handle
	}

	handle := newHandle(m.logger, m.node, m.adapter, m.config.Factory, guildID, m.config.InitialVolume, func() {
		m.removeHandle(guildID)
	})
	m.handles[guildID] = handle
	return handle
}

func (m *Manager) removeHandle(guildID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, guildID)
}

func (m *Manager) onVoiceServerUpdate(update VoiceServerUpdate) {
	handle, ok := m.Handle(update.GuildID)
	if !ok {
		return
	}
	handle.onVoiceServerUpdate(update)
}

func (m *Manager) onVoiceStateUpdate(update VoiceStateUpdate) {
	handle, ok := m.Handle(update.GuildID)
	if !ok {
		return
	}
	handle.onVoiceStateUpdate(update)

	// A disconnect that beat the handshake leaves a dead handle behind.
	if handle.Failed() {
		m.removeHandle(update.GuildID)
	}
}

// Dispose disconnects every realized player and clears the registry.
func (m *Manager) Dispose(ctx context.Context) {
	for _, player := range m.Players() {
		if err := player.Disconnect(ctx); err != nil {
			m.logger.Error("failed to disconnect player",
				slog.String("guild_id", player.GuildID().String()),
				slog.Any("error", err),
			)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.handles)
}
