package protocol

import (
	"encoding/json"

	"github.com/disgoorg/snowflake/v2"
)

// Player is the authoritative player snapshot returned by the node on
// every player mutation.
type Player struct {
	GuildID snowflake.ID `json:"guild_id"`
	Track   *Track       `json:"track,omitempty"`
	Volume  int          `json:"volume"`
	Paused  bool         `json:"paused"`
	State   PlayerState  `json:"state"`
	Voice   VoiceState   `json:"voice"`
}

// VoiceState carries the platform voice credentials the node needs to
// join a voice channel on the client's behalf.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"session_id"`
}

// Nullable is a tri-state JSON field: absent, explicit null, or a value.
// An absent field must never overwrite node-side state, while an
// explicit null clears it (e.g. stopping the current track).
type Nullable[T any] struct {
	value T
	null  bool
	set   bool
}

func NewNullable[T any](v T) Nullable[T] {
	return Nullable[T]{value: v, set: true}
}

func Null[T any]() Nullable[T] {
	return Nullable[T]{null: true, set: true}
}

// IsZero reports whether the field is absent, so that "omitzero" skips it.
func (n Nullable[T]) IsZero() bool {
	return !n.set
}

func (n Nullable[T]) Value() (T, bool) {
	return n.value, n.set && !n.null
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if n.null {
		return []byte("null"), nil
	}
	return json.Marshal(n.value)
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = NewNullable(v)
	return nil
}

// PlayerUpdateProperties is the sparse body of a player update. Only
// fields explicitly set are sent; everything else is left untouched on
// the node.
type PlayerUpdateProperties struct {
	EncodedTrack Nullable[string] `json:"encoded_track,omitzero"`
	Identifier   *string          `json:"identifier,omitempty"`
	Position     *int64           `json:"position,omitempty"`
	EndTime      *int64           `json:"end_time,omitempty"`
	Volume       *int             `json:"volume,omitempty"`
	Paused       *bool            `json:"paused,omitempty"`
	Voice        *VoiceState      `json:"voice,omitempty"`
}

// SessionUpdate configures session resumption on the node.
type SessionUpdate struct {
	Resuming *bool  `json:"resuming,omitempty"`
	Timeout  *int64 `json:"timeout,omitempty"`
}

// Error is the node's REST error body.
type Error struct {
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status"`
	ErrorName string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}
