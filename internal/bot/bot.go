package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/britzoneid/BritzoneBot/internal/config"
	"github.com/britzoneid/BritzoneBot/internal/executor"
	"github.com/britzoneid/BritzoneBot/internal/rooms"
	"github.com/britzoneid/BritzoneBot/internal/session"
	"github.com/britzoneid/BritzoneBot/internal/store"
	"github.com/britzoneid/BritzoneBot/internal/timer"
)

// Bot represents the Discord bot instance
type Bot struct {
	config   *config.Config
	session  *discordgo.Session
	repo     *store.Repository
	registry *session.Registry
	exec     *executor.Executor
	monitor  *timer.Monitor
	commands []*discordgo.ApplicationCommand

	// root context for handler-spawned work, set by Start
	ctx context.Context
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	discord, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents; voice states are needed to read room occupancy
	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates

	// Initialize storage
	repo, err := store.NewRepository(cfg.DatabasePath, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := session.NewRegistry()
	platform := rooms.NewDiscord(discord)
	exec := executor.New(repo, registry, platform, cfg.RoomPrefix)
	monitor := timer.New(repo, exec, cfg.TimerPollSeconds)

	b := &Bot{
		config:   cfg,
		session:  discord,
		repo:     repo,
		registry: registry,
		exec:     exec,
		monitor:  monitor,
	}

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and registers the slash commands
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx

	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	// Stop timer loops
	if b.monitor != nil {
		b.monitor.Stop()
	}

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))

		guildIDs := make([]string, len(r.Guilds))
		for idx, g := range r.Guilds {
			guildIDs[idx] = g.ID
		}
		b.resumeTimers(guildIDs)
	})
}

// resumeTimers re-arms monitoring for guilds whose timer record survived a
// restart.
func (b *Bot) resumeTimers(guildIDs []string) {
	for _, guildID := range guildIDs {
		resumed, err := b.monitor.Resume(b.context(), guildID)
		if err != nil {
			slog.Error("Failed to resume timer", "guildID", guildID, "error", err)
			continue
		}
		if resumed {
			slog.Info("Re-armed session timer", "guildID", guildID)
		}
	}
}

// handleInteraction processes slash command interactions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	if data.Name != "breakout" || len(data.Options) == 0 {
		return
	}

	sub := data.Options[0]
	slog.Debug("Received command", "subcommand", sub.Name, "guild", i.GuildID)

	if !b.memberCanManage(i) {
		respondWithMessage(s, i, "You need the Manage Channels permission to run breakout commands.")
		return
	}

	switch sub.Name {
	case "create":
		b.handleCreate(s, i, sub)
	case "distribute":
		b.handleDistribute(s, i, sub)
	case "end":
		b.handleEnd(s, i, sub)
	case "timer":
		b.handleTimer(s, i, sub)
	case "broadcast":
		b.handleBroadcast(s, i, sub)
	case "status":
		b.handleStatus(s, i)
	default:
		slog.Warn("Unknown subcommand", "subcommand", sub.Name)
	}
}

// memberCanManage checks the invoker holds Manage Channels
func (b *Bot) memberCanManage(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&discordgo.PermissionManageChannels != 0
}
