package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"

	"github.com/shi-gg/linkdave-go/client/protocol"
	"github.com/shi-gg/linkdave-go/client/rest"
	"github.com/shi-gg/linkdave-go/client/socket"
)

var (
	// ErrReadyTimeout is returned by WaitForReady when no ready payload
	// arrived within the configured ready timeout. The node's own
	// reconnection loop keeps running regardless.
	ErrReadyTimeout = errors.New("timed out waiting for node to become ready")

	// ErrNodeClosed is returned once the node is disposed or its
	// reconnect strategy gave up.
	ErrNodeClosed = errors.New("node is closed")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingReady
	StateReady
	StateReconnecting
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Listener receives the node's aggregate fan-out: every matched player
// event and every statistics snapshot.
type Listener interface {
	OnEvent(event protocol.EventPayload)
	OnStats(stats protocol.Stats)
}

// PlayerListener is notified about everything the node pushes for one
// guild's player.
type PlayerListener interface {
	NotifyPlayerUpdate(state protocol.PlayerState)
	NotifyTrackStart(track protocol.Track)
	NotifyTrackEnd(track protocol.Track, reason string)
	NotifyTrackException(track protocol.Track, exception protocol.Exception)
	NotifyTrackStuck(track protocol.Track, thresholdMs int64)
	NotifyWebSocketClosed(code int, reason string, byRemote bool)
}

// PlayerResolver looks up the player registered for a guild. The player
// manager implements it.
type PlayerResolver interface {
	ResolvePlayerListener(guildID snowflake.ID) (PlayerListener, bool)
}

// Config is read once at node construction.
type Config struct {
	Label      string
	URI        string
	Passphrase string
	ClientName string

	ReadyTimeout time.Duration

	ResumptionEnabled bool
	ResumptionTimeout time.Duration

	Strategy ReconnectStrategy
}

const defaultReadyTimeout = 10 * time.Second

// Node owns one logical session to the remote audio node: it dials
// sockets, runs the connect/ready/resume/reconnect loop, and fans
// decoded payloads out to the registered players and the aggregate
// listener.
type Node struct {
	logger     *slog.Logger
	config     Config
	restClient rest.Client
	listener   Listener
	resolver   PlayerResolver

	userID     snowflake.ID
	shardCount int

	mu        sync.RWMutex
	state     State
	sessionID string
	ready     bool
	readyChan chan struct{}

	shutdown atomic.Bool
	closed   chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
}

func New(logger *slog.Logger, config Config, restClient rest.Client, listener Listener) *Node {
	if config.Label == "" {
		config.Label = "node-" + uuid.NewString()[:8]
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = defaultReadyTimeout
	}
	if config.Strategy == nil {
		config.Strategy = NewExponentialBackoff()
	}

	return &Node{
		logger:     logger.With(slog.String("node", config.Label)),
		config:     config,
		restClient: restClient,
		listener:   listener,
		state:      StateIdle,
		readyChan:  make(chan struct{}),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (n *Node) Label() string {
	return n.config.Label
}

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// SessionID returns the node-assigned session id, or "" before the
// first ready payload. Only the receive loop writes it.
func (n *Node) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

func (n *Node) IsReady() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ready
}

// Rest exposes the node's REST collaborator to the player layer.
func (n *Node) Rest() rest.Client {
	return n.restClient
}

// SetPlayerResolver wires the player registry in. It must be called
// before Start; the manager depends on the node, so it cannot be passed
// to New.
func (n *Node) SetPlayerResolver(resolver PlayerResolver) {
	n.resolver = resolver
}

// Start launches the connection loop. The user id and shard count come
// from the platform adapter once its own gateway is ready.
func (n *Node) Start(ctx context.Context, userID snowflake.ID, shardCount int) {
	runCtx, cancel := context.WithCancel(ctx)

	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		cancel()
		n.logger.Warn("node already started", slog.String("state", n.state.String()))
		return
	}
	n.userID = userID
	n.shardCount = shardCount
	n.cancel = cancel
	n.state = StateConnecting
	n.mu.Unlock()

	go n.run(runCtx)
}

func (n *Node) run(ctx context.Context) {
	defer close(n.done)

	var (
		attempt int
		lostAt  time.Time
	)

	for {
		if ctx.Err() != nil || n.shutdown.Load() {
			return
		}

		n.setState(StateConnecting)
		conn := socket.NewConnection(n.logger, socket.Config{
			URI:        n.config.URI,
			Passphrase: n.config.Passphrase,
			UserID:     n.userID,
			ShardCount: n.shardCount,
			ClientName: n.config.ClientName,
			SessionID:  n.SessionID(),
		})

		err := conn.Dial(ctx)
		if err == nil {
			n.setState(StateAwaitingReady)
			err = conn.Listen(ctx, n.handlePayload)
		}

		wasReady := n.beginReconnect()

		if ctx.Err() != nil || n.shutdown.Load() {
			return
		}

		if wasReady {
			// The previous receive loop had reached ready, so this is a
			// fresh disconnect, not another failed attempt.
			attempt = 0
			lostAt = time.Now()
		} else if lostAt.IsZero() {
			lostAt = time.Now()
		}
		attempt++

		n.logger.Warn("node disconnected",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		delay, ok := n.config.Strategy.NextDelay(lostAt, attempt)
		if !ok {
			n.logger.Error("reconnect strategy gave up, node suspended",
				slog.Int("attempt", attempt),
			)
			n.closeTerminal()
			return
		}

		n.logger.Info("reconnecting",
			slog.Duration("delay", delay),
			slog.String("session_id", n.SessionID()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// beginReconnect re-arms the ready gate for the next connection and
// reports whether the session had been ready. The session id is kept so
// the next attempt can ask for resumption.
func (n *Node) beginReconnect() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	wasReady := n.ready
	n.ready = false
	if wasReady {
		n.readyChan = make(chan struct{})
	}
	if n.state != StateDisposed {
		n.state = StateReconnecting
	}
	return wasReady
}

func (n *Node) setState(state State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateDisposed {
		n.state = state
	}
}

func (n *Node) closeTerminal() {
	n.mu.Lock()
	n.state = StateDisposed
	n.mu.Unlock()

	select {
	case <-n.closed:
	default:
		close(n.closed)
	}
}

// WaitForReady blocks until the node has processed a ready payload and
// returns the session id. A ready-timeout failure is distinct from
// caller cancellation; neither affects the node's own reconnect loop.
func (n *Node) WaitForReady(ctx context.Context) (string, error) {
	timer := time.NewTimer(n.config.ReadyTimeout)
	defer timer.Stop()

	for {
		n.mu.RLock()
		ready := n.ready
		sessionID := n.sessionID
		readyChan := n.readyChan
		disposed := n.state == StateDisposed
		n.mu.RUnlock()

		if disposed {
			return "", ErrNodeClosed
		}
		if ready {
			return sessionID, nil
		}

		select {
		case <-readyChan:
		case <-timer.C:
			return "", ErrReadyTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		case <-n.closed:
			return "", ErrNodeClosed
		}
	}
}

// Dispose shuts the node down cooperatively and waits for the receive
// loop to drain. Errors observed during the drain are swallowed.
func (n *Node) Dispose() {
	if n.shutdown.Swap(true) {
		return
	}

	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-n.done
	}

	n.closeTerminal()
	n.logger.Info("node disposed")
}

func (n *Node) handlePayload(payload protocol.Payload) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("panic while handling payload", slog.Any("panic", r))
		}
	}()

	if ready, ok := payload.(protocol.Ready); ok {
		n.handleReady(ready)
		return
	}

	// No payload other than ready may be processed before the session
	// id is known; earlier payloads are dropped, never queued.
	if n.SessionID() == "" {
		n.logger.Debug("dropping payload received before ready")
		return
	}

	switch p := payload.(type) {
	case protocol.PlayerUpdate:
		n.handlePlayerUpdate(p)
	case protocol.Stats:
		if n.listener != nil {
			n.listener.OnStats(p)
		}
	case protocol.EventPayload:
		n.dispatchEvent(p)
	default:
		n.logger.Warn("unhandled payload", slog.String("op", fmt.Sprintf("%T", payload)))
	}
}

func (n *Node) handleReady(ready protocol.Ready) {
	n.mu.Lock()
	if n.ready {
		// A second ready on a live session: refresh the id, keep going.
		n.sessionID = ready.SessionID
		n.mu.Unlock()
		n.logger.Warn("received ready for an already ready session",
			slog.String("session_id", ready.SessionID),
		)
		return
	}
	n.sessionID = ready.SessionID
	n.ready = true
	if n.state != StateDisposed {
		n.state = StateReady
	}
	readyChan := n.readyChan
	n.mu.Unlock()

	close(readyChan)

	n.logger.Info("node ready",
		slog.String("session_id", ready.SessionID),
		slog.Bool("resumed", ready.Resumed),
	)

	if n.config.ResumptionEnabled && !ready.Resumed {
		go n.configureResumption(ready.SessionID)
	}
}

func (n *Node) configureResumption(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resuming := true
	timeout := int64(n.config.ResumptionTimeout / time.Second)
	err := n.restClient.UpdateSession(ctx, sessionID, protocol.SessionUpdate{
		Resuming: &resuming,
		Timeout:  &timeout,
	})
	if err != nil {
		n.logger.Error("failed to enable session resumption", slog.Any("error", err))
		return
	}

	n.logger.Debug("session resumption enabled",
		slog.Int64("timeout_s", timeout),
	)
}

func (n *Node) handlePlayerUpdate(update protocol.PlayerUpdate) {
	listener, ok := n.resolvePlayer(update.GuildID)
	if !ok {
		n.logger.Debug("dropping player update for unregistered guild",
			slog.String("guild_id", update.GuildID.String()),
		)
		return
	}
	listener.NotifyPlayerUpdate(update.State)
}

func (n *Node) dispatchEvent(event protocol.EventPayload) {
	listener, ok := n.resolvePlayer(event.EventGuildID())
	if !ok {
		n.logger.Debug("dropping event for unregistered guild",
			slog.String("guild_id", event.EventGuildID().String()),
		)
		return
	}

	switch e := event.(type) {
	case protocol.TrackStart:
		listener.NotifyTrackStart(e.Track)
	case protocol.TrackEnd:
		listener.NotifyTrackEnd(e.Track, e.Reason)
	case protocol.TrackException:
		listener.NotifyTrackException(e.Track, e.Exception)
	case protocol.TrackStuck:
		listener.NotifyTrackStuck(e.Track, e.Threshold)
	case protocol.WebSocketClosed:
		listener.NotifyWebSocketClosed(e.Code, e.Reason, e.ByRemote)
	}

	if n.listener != nil {
		n.listener.OnEvent(event)
	}
}

func (n *Node) resolvePlayer(guildID snowflake.ID) (PlayerListener, bool) {
	if n.resolver == nil {
		return nil, false
	}
	return n.resolver.ResolvePlayerListener(guildID)
}
