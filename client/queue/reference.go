package queue

import (
	"github.com/shi-gg/linkdave-go/client/protocol"
)

// TrackReference is either a resolved playable track or a bare
// identifier still to be resolved by the node. Exactly one of the two
// views is populated.
type TrackReference struct {
	track      *protocol.Track
	identifier string
}

func NewTrackReference(track protocol.Track) TrackReference {
	return TrackReference{track: &track}
}

func NewIdentifierReference(identifier string) TrackReference {
	return TrackReference{identifier: identifier}
}

// Track returns the resolved track, if this reference holds one.
func (r TrackReference) Track() (protocol.Track, bool) {
	if r.track == nil {
		return protocol.Track{}, false
	}
	return *r.track, true
}

// Identifier returns the identifier view of whichever variant is held.
// Queue deduplication compares references through this view.
func (r TrackReference) Identifier() string {
	if r.track != nil {
		if r.track.Info.Identifier != "" {
			return r.track.Info.Identifier
		}
		return r.track.Encoded
	}
	return r.identifier
}

func (r TrackReference) IsResolved() bool {
	return r.track != nil
}

// Item is one queue entry. Items are immutable values; mutating the
// queue never touches an item already handed out.
type Item struct {
	Reference TrackReference
}

func NewItem(reference TrackReference) Item {
	return Item{Reference: reference}
}
