package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeMessageReady(t *testing.T) {
	data := []byte(`{"op":"ready","d":{"session_id":"abc","resumed":true}}`)

	payload, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage returned error: %v", err)
	}

	ready, ok := payload.(Ready)
	if !ok {
		t.Fatalf("expected Ready, got %T", payload)
	}
	if ready.SessionID != "abc" {
		t.Errorf("expected session id abc, got %q", ready.SessionID)
	}
	if !ready.Resumed {
		t.Error("expected resumed to be true")
	}
}

func TestDecodeMessagePlayerUpdate(t *testing.T) {
	data := []byte(`{"op":"player_update","d":{"guild_id":"123","state":{"time":1000,"position":30000,"connected":true,"ping":12}}}`)

	payload, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage returned error: %v", err)
	}

	update, ok := payload.(PlayerUpdate)
	if !ok {
		t.Fatalf("expected PlayerUpdate, got %T", payload)
	}
	if update.GuildID != 123 {
		t.Errorf("expected guild id 123, got %s", update.GuildID)
	}
	if update.State.Position != 30000 || !update.State.Connected {
		t.Errorf("unexpected state: %+v", update.State)
	}
}

func TestDecodeMessageEvents(t *testing.T) {
	tests := []struct {
		name string
		data string
		want func(t *testing.T, payload Payload)
	}{
		{
			name: "track start",
			data: `{"op":"event","d":{"type":"track_start","guild_id":"1","track":{"encoded":"QAA","info":{"identifier":"dQw4"}}}}`,
			want: func(t *testing.T, payload Payload) {
				e, ok := payload.(TrackStart)
				if !ok {
					t.Fatalf("expected TrackStart, got %T", payload)
				}
				if e.Track.Encoded != "QAA" {
					t.Errorf("unexpected track token %q", e.Track.Encoded)
				}
			},
		},
		{
			name: "track end",
			data: `{"op":"event","d":{"type":"track_end","guild_id":"1","track":{"encoded":"QAA"},"reason":"finished"}}`,
			want: func(t *testing.T, payload Payload) {
				e, ok := payload.(TrackEnd)
				if !ok {
					t.Fatalf("expected TrackEnd, got %T", payload)
				}
				if e.Reason != TrackEndReasonFinished {
					t.Errorf("unexpected reason %q", e.Reason)
				}
			},
		},
		{
			name: "track exception",
			data: `{"op":"event","d":{"type":"track_exception","guild_id":"1","track":{"encoded":"QAA"},"exception":{"message":"boom","severity":"fault"}}}`,
			want: func(t *testing.T, payload Payload) {
				e, ok := payload.(TrackException)
				if !ok {
					t.Fatalf("expected TrackException, got %T", payload)
				}
				if e.Exception.Severity != SeverityFault {
					t.Errorf("unexpected severity %q", e.Exception.Severity)
				}
			},
		},
		{
			name: "track stuck",
			data: `{"op":"event","d":{"type":"track_stuck","guild_id":"1","track":{"encoded":"QAA"},"threshold_ms":5000}}`,
			want: func(t *testing.T, payload Payload) {
				e, ok := payload.(TrackStuck)
				if !ok {
					t.Fatalf("expected TrackStuck, got %T", payload)
				}
				if e.Threshold != 5000 {
					t.Errorf("unexpected threshold %d", e.Threshold)
				}
			},
		},
		{
			name: "websocket closed",
			data: `{"op":"event","d":{"type":"websocket_closed","guild_id":"1","code":4006,"reason":"session invalid","by_remote":true}}`,
			want: func(t *testing.T, payload Payload) {
				e, ok := payload.(WebSocketClosed)
				if !ok {
					t.Fatalf("expected WebSocketClosed, got %T", payload)
				}
				if e.Code != 4006 || !e.ByRemote {
					t.Errorf("unexpected event: %+v", e)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := DecodeMessage([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeMessage returned error: %v", err)
			}
			event, ok := payload.(EventPayload)
			if !ok {
				t.Fatalf("expected EventPayload, got %T", payload)
			}
			if event.EventGuildID() != 1 {
				t.Errorf("expected guild id 1, got %s", event.EventGuildID())
			}
			tt.want(t, payload)
		})
	}
}

func TestDecodeMessageUnknownOp(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"op":"nonsense","d":{}}`)); err == nil {
		t.Error("expected error for unknown op")
	}
	if _, err := DecodeMessage([]byte(`{"op":"event","d":{"type":"nonsense"}}`)); err == nil {
		t.Error("expected error for unknown event type")
	}
	if _, err := DecodeMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed message")
	}
}

func TestPlayerUpdatePropertiesSparse(t *testing.T) {
	volume := 50
	data, err := json.Marshal(PlayerUpdateProperties{Volume: &volume})
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(data) != `{"volume":50}` {
		t.Errorf("expected only volume to be sent, got %s", data)
	}
}

func TestPlayerUpdatePropertiesNullTrack(t *testing.T) {
	data, err := json.Marshal(PlayerUpdateProperties{EncodedTrack: Null[string]()})
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(data) != `{"encoded_track":null}` {
		t.Errorf("expected explicit null track, got %s", data)
	}

	data, err = json.Marshal(PlayerUpdateProperties{EncodedTrack: NewNullable("QAA")})
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(data) != `{"encoded_track":"QAA"}` {
		t.Errorf("expected track token, got %s", data)
	}
}
