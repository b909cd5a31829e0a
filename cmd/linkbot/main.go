package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"

	"github.com/shi-gg/linkdave-go/client/adapter"
	"github.com/shi-gg/linkdave-go/client/node"
	"github.com/shi-gg/linkdave-go/client/player"
	"github.com/shi-gg/linkdave-go/client/queue"
	"github.com/shi-gg/linkdave-go/client/rest"
)

type config struct {
	Token      string        `env:"DISCORD_TOKEN,required"`
	NodeWSURI  string        `env:"LINKDAVE_WS_URI" envDefault:"ws://localhost:8080/ws"`
	NodeAPIURI string        `env:"LINKDAVE_API_URI" envDefault:"http://localhost:8081"`
	Passphrase string        `env:"LINKDAVE_PASSPHRASE"`
	Prefix     string        `env:"LINKBOT_PREFIX" envDefault:"!"`
	History    int           `env:"LINKBOT_HISTORY" envDefault:"25"`
	Resume     bool          `env:"LINKDAVE_RESUME" envDefault:"true"`
	ResumeFor  time.Duration `env:"LINKDAVE_RESUME_TIMEOUT" envDefault:"60s"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using system environment")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Error("failed to parse config", slog.Any("error", err))
		os.Exit(1)
	}

	voiceAdapter := adapter.New(logger)
	b := &linkbot{logger: logger, cfg: cfg, adapter: voiceAdapter}

	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithEventListenerFunc(voiceAdapter.HandleReady),
		bot.WithEventListenerFunc(voiceAdapter.HandleVoiceServerUpdate),
		bot.WithEventListenerFunc(voiceAdapter.HandleGuildVoiceStateUpdate),
		bot.WithEventListenerFunc(b.onMessageCreate),
		bot.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create discord client", slog.Any("error", err))
		os.Exit(1)
	}
	voiceAdapter.SetClient(client)
	b.client = client

	restClient := rest.NewClient(logger, rest.Config{
		BaseURL:    cfg.NodeAPIURI,
		Passphrase: cfg.Passphrase,
	})

	b.node = node.New(logger, node.Config{
		URI:               cfg.NodeWSURI,
		Passphrase:        cfg.Passphrase,
		ClientName:        "linkbot",
		ResumptionEnabled: cfg.Resume,
		ResumptionTimeout: cfg.ResumeFor,
	}, restClient, nil)

	b.manager = player.NewManager(logger, b.node, voiceAdapter, player.ManagerConfig{
		Factory:  player.NewQueuedPlayerFactory(cfg.History),
		SelfDeaf: true,
	})
	b.node.SetPlayerResolver(b.manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.OpenGateway(ctx); err != nil {
		logger.Error("failed to open gateway", slog.Any("error", err))
		os.Exit(1)
	}

	info, err := voiceAdapter.WaitForReady(ctx)
	if err != nil {
		logger.Error("gateway never became ready", slog.Any("error", err))
		os.Exit(1)
	}
	b.node.Start(ctx, info.UserID, info.ShardCount)

	logger.Info("linkbot running", slog.String("prefix", cfg.Prefix))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	b.manager.Dispose(shutdownCtx)
	b.node.Dispose()
	client.Close(shutdownCtx)

	logger.Info("linkbot stopped")
}

type linkbot struct {
	logger  *slog.Logger
	cfg     config
	client  *bot.Client
	adapter *adapter.Adapter
	node    *node.Node
	manager *player.Manager
}

func (b *linkbot) onMessageCreate(event *events.MessageCreate) {
	if event.Message.Author.Bot || event.GuildID == nil {
		return
	}
	content := strings.TrimSpace(event.Message.Content)
	if !strings.HasPrefix(content, b.cfg.Prefix) {
		return
	}

	parts := strings.Fields(strings.TrimPrefix(content, b.cfg.Prefix))
	if len(parts) == 0 {
		return
	}
	command, args := parts[0], parts[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch command {
	case "play":
		err = b.play(ctx, event, args)
	case "skip":
		err = b.withQueuedPlayer(*event.GuildID, func(p *player.QueuedPlayer) error {
			return p.Skip(ctx, 1)
		})
	case "pause":
		err = b.withQueuedPlayer(*event.GuildID, func(p *player.QueuedPlayer) error {
			return p.Pause(ctx)
		})
	case "resume":
		err = b.withQueuedPlayer(*event.GuildID, func(p *player.QueuedPlayer) error {
			return p.Resume(ctx)
		})
	case "stop":
		err = b.withQueuedPlayer(*event.GuildID, func(p *player.QueuedPlayer) error {
			p.Queue().Clear()
			return p.Stop(ctx)
		})
	case "leave":
		err = b.withQueuedPlayer(*event.GuildID, func(p *player.QueuedPlayer) error {
			return p.Disconnect(ctx)
		})
	default:
		return
	}

	if err != nil {
		b.reply(event, fmt.Sprintf("error: %s", err))
	}
}

func (b *linkbot) play(ctx context.Context, event *events.MessageCreate, args []string) error {
	if len(args) == 0 {
		b.reply(event, "usage: play <url or identifier>")
		return nil
	}
	guildID := *event.GuildID

	voiceState, ok := b.client.Caches.VoiceState(guildID, event.Message.Author.ID)
	if !ok || voiceState.ChannelID == nil {
		b.reply(event, "join a voice channel first")
		return nil
	}

	p, err := b.manager.Join(ctx, guildID, *voiceState.ChannelID)
	if err != nil {
		return err
	}
	queued, ok := p.(*player.QueuedPlayer)
	if !ok {
		return fmt.Errorf("unexpected player type %T", p)
	}

	position, err := queued.Play(ctx, queue.NewIdentifierReference(args[0]))
	if err != nil {
		return err
	}

	if position == 0 {
		b.reply(event, "now playing")
	} else {
		b.reply(event, fmt.Sprintf("queued at position %d", position))
	}
	return nil
}

func (b *linkbot) withQueuedPlayer(guildID snowflake.ID, fn func(p *player.QueuedPlayer) error) error {
	p, ok := b.manager.Player(guildID)
	if !ok {
		return fmt.Errorf("nothing playing in this guild")
	}
	queued, ok := p.(*player.QueuedPlayer)
	if !ok {
		return fmt.Errorf("unexpected player type %T", p)
	}
	return fn(queued)
}

func (b *linkbot) reply(event *events.MessageCreate, content string) {
	_, err := b.client.Rest.CreateMessage(event.ChannelID, discord.NewMessageCreate().
		WithContent(content).
		WithMessageReferenceByID(event.MessageID))
	if err != nil {
		b.logger.Error("failed to send reply", slog.Any("error", err))
	}
}
