package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"

	"github.com/shi-gg/linkdave-go/client/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRest struct {
	mu             sync.Mutex
	sessionUpdates []string
}

func (f *fakeRest) UpdatePlayer(context.Context, string, snowflake.ID, protocol.PlayerUpdateProperties) (protocol.Player, error) {
	return protocol.Player{}, nil
}

func (f *fakeRest) DestroyPlayer(context.Context, string, snowflake.ID) error {
	return nil
}

func (f *fakeRest) UpdateSession(_ context.Context, sessionID string, _ protocol.SessionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionUpdates = append(f.sessionUpdates, sessionID)
	return nil
}

func (f *fakeRest) sessionUpdateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessionUpdates)
}

type fakeListener struct {
	events chan protocol.EventPayload
	stats  chan protocol.Stats
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		events: make(chan protocol.EventPayload, 16),
		stats:  make(chan protocol.Stats, 16),
	}
}

func (l *fakeListener) OnEvent(event protocol.EventPayload) { l.events <- event }
func (l *fakeListener) OnStats(stats protocol.Stats)        { l.stats <- stats }

type fakePlayerListener struct {
	updates     chan protocol.PlayerState
	trackStarts chan protocol.Track
}

func newFakePlayerListener() *fakePlayerListener {
	return &fakePlayerListener{
		updates:     make(chan protocol.PlayerState, 16),
		trackStarts: make(chan protocol.Track, 16),
	}
}

func (l *fakePlayerListener) NotifyPlayerUpdate(state protocol.PlayerState) { l.updates <- state }
func (l *fakePlayerListener) NotifyTrackStart(track protocol.Track)         { l.trackStarts <- track }
func (l *fakePlayerListener) NotifyTrackEnd(protocol.Track, string)         {}
func (l *fakePlayerListener) NotifyTrackException(protocol.Track, protocol.Exception) {}
func (l *fakePlayerListener) NotifyTrackStuck(protocol.Track, int64)                  {}
func (l *fakePlayerListener) NotifyWebSocketClosed(int, string, bool)                 {}

type fakeResolver struct {
	guildID  snowflake.ID
	listener *fakePlayerListener
}

func (r *fakeResolver) ResolvePlayerListener(guildID snowflake.ID) (PlayerListener, bool) {
	if guildID == r.guildID {
		return r.listener, true
	}
	return nil, false
}

// newTestNodeServer runs script against every websocket connection the
// node opens. The script should drain the connection before returning so
// client pings are answered.
func newTestNodeServer(t *testing.T, script func(conn *websocket.Conn, attempt int)) string {
	t.Helper()

	var (
		upgrader websocket.Upgrader
		mu       sync.Mutex
		attempt  int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		attempt++
		n := attempt
		mu.Unlock()

		script(conn, n)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestNodeReadyAndDispatch(t *testing.T) {
	uri := newTestNodeServer(t, func(conn *websocket.Conn, _ int) {
		// A payload before ready must be dropped, never queued.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"player_update","d":{"guild_id":"42","state":{"position":111}}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","d":{"session_id":"sess-1","resumed":false}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"player_update","d":{"guild_id":"42","state":{"position":5000,"connected":true}}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"player_update","d":{"guild_id":"99","state":{"position":1}}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"stats","d":{"players":3,"playing_players":1,"uptime":1000}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"event","d":{"type":"track_start","guild_id":"42","track":{"encoded":"QAA"}}}`))
		drain(conn)
	})

	listener := newFakeListener()
	playerListener := newFakePlayerListener()

	n := New(testLogger(), Config{
		Label: "test",
		URI:   uri,
	}, &fakeRest{}, listener)
	n.SetPlayerResolver(&fakeResolver{guildID: 42, listener: playerListener})

	n.Start(context.Background(), 1, 1)
	defer n.Dispose()

	sessionID, err := n.WaitForReady(context.Background())
	if err != nil {
		t.Fatalf("WaitForReady returned error: %v", err)
	}
	if sessionID != "sess-1" {
		t.Errorf("expected session id sess-1, got %q", sessionID)
	}

	select {
	case track := <-playerListener.trackStarts:
		if track.Encoded != "QAA" {
			t.Errorf("unexpected track %q", track.Encoded)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for track start")
	}

	// The track start arrived after every player update was processed, so
	// exactly one update must have been delivered: the post-ready one for
	// the registered guild.
	if got := len(playerListener.updates); got != 1 {
		t.Fatalf("expected exactly 1 player update, got %d", got)
	}
	state := <-playerListener.updates
	if state.Position != 5000 || !state.Connected {
		t.Errorf("unexpected player state: %+v", state)
	}

	select {
	case stats := <-listener.stats:
		if stats.Players != 3 {
			t.Errorf("unexpected stats: %+v", stats)
		}
	default:
		t.Error("expected a stats fan-out")
	}

	select {
	case event := <-listener.events:
		if _, ok := event.(protocol.TrackStart); !ok {
			t.Errorf("expected TrackStart on the aggregate listener, got %T", event)
		}
	default:
		t.Error("expected the matched event on the aggregate listener")
	}

	if !n.IsReady() {
		t.Error("expected node to be ready")
	}
	if n.State() != StateReady {
		t.Errorf("expected state ready, got %s", n.State())
	}
}

func TestNodeDoubleReadyRefreshesSession(t *testing.T) {
	uri := newTestNodeServer(t, func(conn *websocket.Conn, _ int) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","d":{"session_id":"sess-a","resumed":false}}`))
		// A second ready on the live session must refresh the id and
		// nothing else.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","d":{"session_id":"sess-b","resumed":false}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"stats","d":{"players":1}}`))
		drain(conn)
	})

	listener := newFakeListener()
	n := New(testLogger(), Config{URI: uri}, &fakeRest{}, listener)

	n.Start(context.Background(), 1, 1)
	defer n.Dispose()

	sessionID, err := n.WaitForReady(context.Background())
	if err != nil {
		t.Fatalf("WaitForReady returned error: %v", err)
	}
	if sessionID != "sess-a" {
		t.Errorf("expected the first session id, got %q", sessionID)
	}

	// The stats payload arrives after the second ready, so once it is
	// fanned out the refresh has been processed.
	select {
	case <-listener.stats:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the stats fan-out")
	}

	if got := n.SessionID(); got != "sess-b" {
		t.Errorf("expected the refreshed session id sess-b, got %q", got)
	}
	if !n.IsReady() {
		t.Error("expected the node to stay ready")
	}
	if n.State() != StateReady {
		t.Errorf("expected state ready, got %s", n.State())
	}

	// The ready gate did not re-arm: another wait returns immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if sessionID, err = n.WaitForReady(ctx); err != nil || sessionID != "sess-b" {
		t.Errorf("expected an immediate sess-b, got %q, %v", sessionID, err)
	}
}

func TestNodeResumptionRequested(t *testing.T) {
	uri := newTestNodeServer(t, func(conn *websocket.Conn, _ int) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","d":{"session_id":"sess-2","resumed":false}}`))
		drain(conn)
	})

	restClient := &fakeRest{}
	n := New(testLogger(), Config{
		URI:               uri,
		ResumptionEnabled: true,
		ResumptionTimeout: time.Minute,
	}, restClient, nil)

	n.Start(context.Background(), 1, 1)
	defer n.Dispose()

	if _, err := n.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady returned error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for restClient.sessionUpdateCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the resumption session update")
		}
		time.Sleep(10 * time.Millisecond)
	}

	restClient.mu.Lock()
	defer restClient.mu.Unlock()
	if restClient.sessionUpdates[0] != "sess-2" {
		t.Errorf("expected resumption for sess-2, got %q", restClient.sessionUpdates[0])
	}
}

func TestNodeReconnectKeepsSessionID(t *testing.T) {
	sessionHeaders := make(chan string, 4)

	var (
		upgrader websocket.Upgrader
		mu       sync.Mutex
		attempt  int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionHeaders <- r.Header.Get("Session-Id")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		attempt++
		first := attempt == 1
		mu.Unlock()

		if first {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","d":{"session_id":"sess-3","resumed":false}}`))
			// Drop the connection to force a reconnect.
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","d":{"session_id":"sess-3","resumed":true}}`))
		drain(conn)
	}))
	t.Cleanup(srv.Close)

	n := New(testLogger(), Config{
		URI:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Strategy: ExponentialBackoff{Base: 20 * time.Millisecond, Max: 50 * time.Millisecond},
	}, &fakeRest{}, nil)

	n.Start(context.Background(), 1, 1)
	defer n.Dispose()

	if _, err := n.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady returned error: %v", err)
	}

	first := <-sessionHeaders
	if first != "" {
		t.Errorf("expected no session id on the first dial, got %q", first)
	}

	select {
	case second := <-sessionHeaders:
		if second != "sess-3" {
			t.Errorf("expected the reconnect to carry sess-3, got %q", second)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reconnect")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !n.IsReady() {
		if time.Now().After(deadline) {
			t.Fatal("node never became ready again")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWaitForReadyTimeout(t *testing.T) {
	uri := newTestNodeServer(t, func(conn *websocket.Conn, _ int) {
		drain(conn)
	})

	n := New(testLogger(), Config{
		URI:          uri,
		ReadyTimeout: 100 * time.Millisecond,
	}, &fakeRest{}, nil)

	n.Start(context.Background(), 1, 1)
	defer n.Dispose()

	if _, err := n.WaitForReady(context.Background()); !errors.Is(err, ErrReadyTimeout) {
		t.Errorf("expected ErrReadyTimeout, got %v", err)
	}
}

func TestWaitForReadyCancellation(t *testing.T) {
	uri := newTestNodeServer(t, func(conn *websocket.Conn, _ int) {
		drain(conn)
	})

	n := New(testLogger(), Config{URI: uri}, &fakeRest{}, nil)
	n.Start(context.Background(), 1, 1)
	defer n.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := n.WaitForReady(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNodeSuspendsWhenStrategyGivesUp(t *testing.T) {
	// Dial a server that is already gone.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	uri := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	n := New(testLogger(), Config{
		URI:      uri,
		Strategy: NoReconnect{},
	}, &fakeRest{}, nil)

	n.Start(context.Background(), 1, 1)

	deadline := time.Now().Add(5 * time.Second)
	for n.State() != StateDisposed {
		if time.Now().After(deadline) {
			t.Fatal("node never reached the terminal state")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := n.WaitForReady(context.Background()); !errors.Is(err, ErrNodeClosed) {
		t.Errorf("expected ErrNodeClosed, got %v", err)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	uri := newTestNodeServer(t, func(conn *websocket.Conn, _ int) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","d":{"session_id":"sess-4","resumed":false}}`))
		drain(conn)
	})

	n := New(testLogger(), Config{URI: uri}, &fakeRest{}, nil)
	n.Start(context.Background(), 1, 1)

	if _, err := n.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady returned error: %v", err)
	}

	n.Dispose()
	n.Dispose()

	if n.State() != StateDisposed {
		t.Errorf("expected state disposed, got %s", n.State())
	}
	if _, err := n.WaitForReady(context.Background()); !errors.Is(err, ErrNodeClosed) {
		t.Errorf("expected ErrNodeClosed, got %v", err)
	}
}
