package protocol

const (
	OpReady        = "ready"
	OpPlayerUpdate = "player_update"
	OpStats        = "stats"
	OpEvent        = "event"
)

const (
	EventTrackStart      = "track_start"
	EventTrackEnd        = "track_end"
	EventTrackException  = "track_exception"
	EventTrackStuck      = "track_stuck"
	EventWebSocketClosed = "websocket_closed"
)

const (
	TrackEndReasonFinished   = "finished"
	TrackEndReasonLoadFailed = "load_failed"
	TrackEndReasonStopped    = "stopped"
	TrackEndReasonReplaced   = "replaced"
	TrackEndReasonCleanup    = "cleanup"
)

const (
	SeverityCommon     = "common"
	SeveritySuspicious = "suspicious"
	SeverityFault      = "fault"
)

// MayStartNext reports whether the player is allowed to start the next
// queued track after a track ended with the given reason.
func MayStartNext(reason string) bool {
	return reason == TrackEndReasonFinished || reason == TrackEndReasonLoadFailed
}
