package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
)

// Message is the base WebSocket message structure sent by the node.
type Message struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Payload is one decoded node-to-client message. The set of
// implementations is closed: Ready, PlayerUpdate, Stats and the
// event payloads behind EventPayload.
type Payload interface {
	payloadOp() string
}

// EventPayload is a guild-scoped player event pushed by the node.
type EventPayload interface {
	Payload
	EventGuildID() snowflake.ID
}

type Ready struct {
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed"`
}

type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int   `json:"ping"`
}

type PlayerUpdate struct {
	GuildID snowflake.ID `json:"guild_id"`
	State   PlayerState  `json:"state"`
}

type Memory struct {
	Free       uint64 `json:"free"`
	Used       uint64 `json:"used"`
	Allocated  uint64 `json:"allocated"`
	Reservable uint64 `json:"reservable"`
}

type CPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"system_load"`
	LavalinkLoad float64 `json:"lavalink_load"`
}

type FrameStats struct {
	Sent    int64 `json:"sent"`
	Nulled  int64 `json:"nulled"`
	Deficit int64 `json:"deficit"`
}

type Stats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playing_players"`
	Uptime         int64       `json:"uptime"`
	Memory         Memory      `json:"memory"`
	CPU            CPU         `json:"cpu"`
	FrameStats     *FrameStats `json:"frame_stats,omitempty"`
}

type TrackInfo struct {
	Identifier string `json:"identifier"`
	Author     string `json:"author,omitempty"`
	Length     int64  `json:"length,omitempty"`
	IsStream   bool   `json:"is_stream,omitempty"`
	IsSeekable bool   `json:"is_seekable,omitempty"`
	Title      string `json:"title,omitempty"`
	URI        string `json:"uri,omitempty"`
	SourceName string `json:"source_name,omitempty"`
}

// Track is a playable track token. Encoded is the node's opaque
// serialized form; Info is informational only.
type Track struct {
	Encoded string    `json:"encoded"`
	Info    TrackInfo `json:"info"`
}

type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause,omitempty"`
}

func (e Exception) Error() string {
	return fmt.Sprintf("track exception (%s): %s", e.Severity, e.Message)
}

type TrackStart struct {
	GuildID snowflake.ID `json:"guild_id"`
	Track   Track        `json:"track"`
}

type TrackEnd struct {
	GuildID snowflake.ID `json:"guild_id"`
	Track   Track        `json:"track"`
	Reason  string       `json:"reason"`
}

type TrackException struct {
	GuildID   snowflake.ID `json:"guild_id"`
	Track     Track        `json:"track"`
	Exception Exception    `json:"exception"`
}

type TrackStuck struct {
	GuildID   snowflake.ID `json:"guild_id"`
	Track     Track        `json:"track"`
	Threshold int64        `json:"threshold_ms"`
}

type WebSocketClosed struct {
	GuildID  snowflake.ID `json:"guild_id"`
	Code     int          `json:"code"`
	Reason   string       `json:"reason"`
	ByRemote bool         `json:"by_remote"`
}

func (Ready) payloadOp() string           { return OpReady }
func (PlayerUpdate) payloadOp() string    { return OpPlayerUpdate }
func (Stats) payloadOp() string           { return OpStats }
func (TrackStart) payloadOp() string      { return OpEvent }
func (TrackEnd) payloadOp() string        { return OpEvent }
func (TrackException) payloadOp() string  { return OpEvent }
func (TrackStuck) payloadOp() string      { return OpEvent }
func (WebSocketClosed) payloadOp() string { return OpEvent }

func (e TrackStart) EventGuildID() snowflake.ID      { return e.GuildID }
func (e TrackEnd) EventGuildID() snowflake.ID        { return e.GuildID }
func (e TrackException) EventGuildID() snowflake.ID  { return e.GuildID }
func (e TrackStuck) EventGuildID() snowflake.ID      { return e.GuildID }
func (e WebSocketClosed) EventGuildID() snowflake.ID { return e.GuildID }

// DecodeMessage decodes a raw websocket message into one of the typed
// payloads. Unknown ops and unknown event types are errors; the caller
// decides whether to drop or fail.
func DecodeMessage(data []byte) (Payload, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	switch msg.Op {
	case OpReady:
		var p Ready
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ready: %w", err)
		}
		return p, nil

	case OpPlayerUpdate:
		var p PlayerUpdate
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal player update: %w", err)
		}
		return p, nil

	case OpStats:
		var p Stats
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
		return p, nil

	case OpEvent:
		return decodeEvent(msg.Data)

	default:
		return nil, fmt.Errorf("unknown op %q", msg.Op)
	}
}

func decodeEvent(data json.RawMessage) (Payload, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	var (
		payload Payload
		err     error
	)
	switch head.Type {
	case EventTrackStart:
		var p TrackStart
		err = json.Unmarshal(data, &p)
		payload = p
	case EventTrackEnd:
		var p TrackEnd
		err = json.Unmarshal(data, &p)
		payload = p
	case EventTrackException:
		var p TrackException
		err = json.Unmarshal(data, &p)
		payload = p
	case EventTrackStuck:
		var p TrackStuck
		err = json.Unmarshal(data, &p)
		payload = p
	case EventWebSocketClosed:
		var p WebSocketClosed
		err = json.Unmarshal(data, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", head.Type, err)
	}
	return payload, nil
}
