package player

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
)

// VoiceAdapter is the platform-adapter boundary: it translates platform
// voice events into the two internal signals and forwards outgoing
// voice-channel join/leave requests.
type VoiceAdapter interface {
	// SendVoiceUpdate asks the platform gateway to join (or, with a nil
	// channel id, leave) a voice channel.
	SendVoiceUpdate(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID, selfDeaf, selfMute bool) error

	// WaitForReady blocks until the platform gateway session is up and
	// returns the bot identity the node handshake needs.
	WaitForReady(ctx context.Context) (BotInfo, error)

	OnVoiceServerUpdate(fn func(update VoiceServerUpdate))
	OnVoiceStateUpdate(fn func(update VoiceStateUpdate))
}

type BotInfo struct {
	UserID     snowflake.ID
	ShardCount int
}

// VoiceServerUpdate is the voice-server credential signal.
type VoiceServerUpdate struct {
	GuildID  snowflake.ID
	Token    string
	Endpoint string
}

// VoiceStateUpdate is the voice-state signal for the bot user. A nil
// ChannelID means the bot was disconnected from voice.
type VoiceStateUpdate struct {
	GuildID   snowflake.ID
	ChannelID *snowflake.ID
	SessionID string
}
