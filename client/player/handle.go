package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/shi-gg/linkdave-go/client/protocol"
)

// ErrVoiceDisconnected is returned to pending Player waiters when the
// bot was disconnected from voice before the handshake ever completed.
var ErrVoiceDisconnected = errors.New("voice disconnected before the player was created")

const completeTimeout = 30 * time.Second

// Handle is the per-guild synchronization gate: the player is built
// exactly once, the moment a voice-server credential, a voice state
// with a session id, and the node session are all present. Concurrent
// waiters share one pending gate and converge on the same player.
type Handle struct {
	logger  *slog.Logger
	guildID snowflake.ID
	node    NodeContext
	adapter VoiceAdapter
	factory Factory

	initialVolume int
	onDestroy     func()

	mu           sync.Mutex
	voiceServer  *VoiceServerUpdate
	voiceState   *VoiceStateUpdate
	realized     GuildPlayer
	err          error
	done         chan struct{}
	completing   bool
	waitingReady bool
}

func newHandle(logger *slog.Logger, n NodeContext, adapter VoiceAdapter, factory Factory, guildID snowflake.ID, initialVolume int, onDestroy func()) *Handle {
	return &Handle{
		logger:        logger.With(slog.String("guild_id", guildID.String())),
		guildID:       guildID,
		node:          n,
		adapter:       adapter,
		factory:       factory,
		initialVolume: initialVolume,
		onDestroy:     onDestroy,
		done:          make(chan struct{}),
	}
}

func (h *Handle) GuildID() snowflake.ID {
	return h.guildID
}

// Player returns the realized player, waiting for the handshake gate
// if necessary.
func (h *Handle) Player(ctx context.Context) (GuildPlayer, error) {
	h.mu.Lock()
	realized, err, done := h.realized, h.err, h.done
	h.mu.Unlock()

	if realized != nil {
		return realized, nil
	}
	if err != nil {
		return nil, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.realized, nil
}

// Realized returns the player if the gate already completed.
func (h *Handle) Realized() (GuildPlayer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.realized, h.realized != nil
}

// Failed reports whether the gate completed with an error. A failed
// handle is dead: the manager replaces it on the next join.
func (h *Handle) Failed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err != nil
}

func (h *Handle) onVoiceServerUpdate(update VoiceServerUpdate) {
	h.mu.Lock()
	h.voiceServer = &update
	realized := h.realized
	state := h.voiceState
	h.mu.Unlock()

	if realized != nil {
		if state == nil {
			return
		}
		realized.NotifyVoiceUpdate(protocol.VoiceState{
			Token:     update.Token,
			Endpoint:  update.Endpoint,
			SessionID: state.SessionID,
		})
		return
	}

	h.tryComplete()
}

func (h *Handle) onVoiceStateUpdate(update VoiceStateUpdate) {
	h.mu.Lock()
	realized := h.realized

	if realized == nil && update.ChannelID == nil {
		// Disconnected before the handshake completed: the gate never
		// resolves for this guild. Fail the waiters, let the manager
		// discard the handle.
		if h.err == nil {
			h.err = ErrVoiceDisconnected
			close(h.done)
		}
		h.mu.Unlock()
		h.logger.Debug("voice disconnected before player creation")
		return
	}

	h.voiceState = &update
	h.mu.Unlock()

	if realized != nil {
		realized.NotifyChannelUpdate(update.ChannelID)
		return
	}

	h.tryComplete()
}

// tryComplete checks the gate: all three inputs simultaneously present,
// not already realized, not already completing. The REST call runs
// outside the lock.
func (h *Handle) tryComplete() {
	h.mu.Lock()

	if h.realized != nil || h.err != nil || h.completing {
		h.mu.Unlock()
		return
	}
	server, state := h.voiceServer, h.voiceState
	if server == nil || state == nil || state.SessionID == "" || state.ChannelID == nil {
		h.mu.Unlock()
		return
	}

	sessionID := h.node.SessionID()
	if sessionID == "" {
		// Both voice signals are in but the node session is not. Wait
		// for it once in the background and re-check.
		if !h.waitingReady {
			h.waitingReady = true
			go h.awaitSession()
		}
		h.mu.Unlock()
		return
	}

	h.completing = true
	h.mu.Unlock()

	go h.complete(sessionID, *server, *state)
}

func (h *Handle) awaitSession() {
	ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
	defer cancel()

	_, err := h.node.WaitForReady(ctx)

	h.mu.Lock()
	h.waitingReady = false
	h.mu.Unlock()

	if err != nil {
		// The node is closed or never produced a session in time. The
		// gate must resolve, not retry: fail the waiters.
		h.fail(fmt.Errorf("node session never became available: %w", err))
		return
	}

	h.tryComplete()
}

// fail resolves the gate with an error unless it already completed.
func (h *Handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.realized != nil || h.err != nil {
		return
	}
	h.err = err
	close(h.done)
	h.logger.Error("player creation failed", slog.Any("error", err))
}

func (h *Handle) complete(sessionID string, server VoiceServerUpdate, state VoiceStateUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
	defer cancel()

	props := protocol.PlayerUpdateProperties{
		Voice: &protocol.VoiceState{
			Token:     server.Token,
			Endpoint:  server.Endpoint,
			SessionID: state.SessionID,
		},
	}
	if h.initialVolume > 0 {
		volume := h.initialVolume
		props.Volume = &volume
	}

	snapshot, err := h.node.Rest().UpdatePlayer(ctx, sessionID, h.guildID, props)

	h.mu.Lock()

	if h.realized != nil || h.err != nil {
		h.mu.Unlock()
		return
	}

	if err != nil {
		h.err = fmt.Errorf("failed to create player: %w", err)
		h.completing = false
		close(h.done)
		h.mu.Unlock()
		h.logger.Error("player creation failed", slog.Any("error", err))
		return
	}

	realized := h.factory(Context{
		Logger:    h.logger,
		Node:      h.node,
		Adapter:   h.adapter,
		GuildID:   h.guildID,
		ChannelID: state.ChannelID,
		OnDestroy: h.onDestroy,
	}, snapshot)
	h.realized = realized
	h.completing = false
	latest := h.voiceState
	close(h.done)
	h.mu.Unlock()

	h.logger.Info("player created",
		slog.String("session_id", sessionID),
		slog.String("channel_id", state.ChannelID.String()),
	)

	// A channel move that landed while the creating update was in
	// flight was only stored; apply it now.
	if latest != nil && !sameChannel(latest.ChannelID, state.ChannelID) {
		realized.NotifyChannelUpdate(latest.ChannelID)
	}
}

func sameChannel(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
