package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/britzoneid/BritzoneBot/internal/planner"
	"github.com/britzoneid/BritzoneBot/internal/store"
)

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "breakout",
			Description: "Manage breakout room sessions",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "Create breakout rooms",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "rooms",
							Description: "Number of rooms to create",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "force",
							Description: "Delete existing breakout rooms first",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "distribute",
					Description: "Split participants from the main room into breakout rooms",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "main_room",
							Description: "The voice channel participants are currently in",
							Required:    true,
							ChannelTypes: []discordgo.ChannelType{
								discordgo.ChannelTypeGuildVoice,
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "facilitators",
							Description: "Mentions of members who stay in the main room",
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "force",
							Description: "Distribute even if rooms are already occupied",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "end",
					Description: "Bring everyone back and delete the breakout rooms",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "main_room",
							Description: "The voice channel to move participants back to",
							Required:    true,
							ChannelTypes: []discordgo.ChannelType{
								discordgo.ChannelTypeGuildVoice,
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "force",
							Description: "End even if the rooms are already empty",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "timer",
					Description: "Start a session timer with a 5-minute warning",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "minutes",
							Description: "Session length in minutes",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "broadcast",
					Description: "Send a message to every breakout room",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "message",
							Description: "The message to send",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Show the current breakout session state",
				},
			},
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// handleCreate handles /breakout create
func (b *Bot) handleCreate(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)
	roomCount := int(opts["rooms"].IntValue())
	force := boolOption(opts, "force")

	if roomCount < 1 || roomCount > 25 {
		respondWithMessage(s, i, "Room count must be between 1 and 25.")
		return
	}

	// Respond immediately to avoid timeout
	deferResponse(s, i)

	result := b.exec.ExecuteCreate(b.context(), i.GuildID, roomCount, force)
	b.editResponse(s, i, result.Message)
}

// handleDistribute handles /breakout distribute
func (b *Bot) handleDistribute(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)
	mainRoom := opts["main_room"].ChannelValue(s)
	force := boolOption(opts, "force")

	facilitators := make(map[string]bool)
	if opt, ok := opts["facilitators"]; ok {
		for _, match := range mentionPattern.FindAllStringSubmatch(opt.StringValue(), -1) {
			facilitators[match[1]] = true
		}
	}

	deferResponse(s, i)
	ctx := b.context()

	// Build a fresh plan from the main room's occupants, facilitators
	// excluded. When a crashed distribution is being resumed the executor
	// rebuilds the plan from the persisted snapshot, and the main room may
	// legitimately be empty already, so the fresh-plan preconditions must
	// not gate the resume.
	var plan map[string][]planner.Member
	if !b.resumingDistribute(i.GuildID) {
		var errMsg string
		plan, errMsg = b.buildPlan(ctx, i.GuildID, mainRoom.ID, facilitators)
		if errMsg != "" {
			b.editResponse(s, i, errMsg)
			return
		}
	}

	result := b.exec.ExecuteDistribute(ctx, i.GuildID, mainRoom.ID, plan, force)
	msg := result.Message
	if result.Moves != nil && len(result.Moves.Failed) > 0 {
		msg += "\nCould not move: " + strings.Join(result.Moves.Failed, ", ")
	}
	b.editResponse(s, i, msg)
}

// resumingDistribute reports whether the guild has an in-flight distribute
// operation, which the executor resumes from its persisted snapshot.
func (b *Bot) resumingDistribute(guildID string) bool {
	op, err := b.repo.GetCurrentOperation(guildID)
	return err == nil && op != nil && !op.Completed && op.Type == store.OperationDistribute
}

// buildPlan collects distributable participants and assigns them to rooms.
// Returns a user-facing message on failure.
func (b *Bot) buildPlan(ctx context.Context, guildID, mainRoomID string, facilitators map[string]bool) (map[string][]planner.Member, string) {
	platform := b.exec.Platform()

	occupants, err := platform.RoomOccupants(ctx, guildID, mainRoomID)
	if err != nil {
		slog.Error("Failed to read main room occupants", "guildID", guildID, "error", err)
		return nil, "Could not read the main room's occupants. Try again."
	}

	participants := make([]planner.Member, 0, len(occupants))
	for _, m := range occupants {
		if !facilitators[m.ID] {
			participants = append(participants, m)
		}
	}
	if len(participants) == 0 {
		return nil, "No participants to distribute (is everyone a facilitator?)."
	}

	targets, err := b.exec.BreakoutRooms(ctx, guildID)
	if err != nil {
		slog.Error("Failed to find breakout rooms", "guildID", guildID, "error", err)
		return nil, "Could not look up breakout rooms. Try again."
	}
	plan, err := planner.Distribute(participants, targets)
	if err != nil {
		return nil, "No breakout rooms found. Run `/breakout create` first."
	}
	return plan, ""
}

// handleEnd handles /breakout end
func (b *Bot) handleEnd(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)
	mainRoom := opts["main_room"].ChannelValue(s)
	force := boolOption(opts, "force")

	deferResponse(s, i)

	result := b.exec.ExecuteEnd(b.context(), i.GuildID, mainRoom.ID, force)
	b.editResponse(s, i, result.Message)
}

// handleTimer handles /breakout timer
func (b *Bot) handleTimer(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)
	minutes := int(opts["minutes"].IntValue())

	if minutes < 1 {
		respondWithMessage(s, i, "Timer length must be at least 1 minute.")
		return
	}

	tracked, err := b.exec.BreakoutRooms(b.context(), i.GuildID)
	if err != nil {
		slog.Error("Failed to find breakout rooms", "guildID", i.GuildID, "error", err)
		respondWithMessage(s, i, "Could not look up breakout rooms. Try again.")
		return
	}
	if len(tracked) == 0 {
		respondWithMessage(s, i, "No breakout rooms found. Run `/breakout create` first.")
		return
	}

	roomIDs := make([]string, len(tracked))
	for idx, room := range tracked {
		roomIDs[idx] = room.ID
	}

	if err := b.monitor.StartTimer(b.context(), i.GuildID, minutes, roomIDs); err != nil {
		slog.Error("Failed to start timer", "guildID", i.GuildID, "error", err)
		respondWithMessage(s, i, "Could not start the timer. Try again.")
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Timer set for %d minute(s). Rooms get a warning 5 minutes before the end.", minutes))
}

// handleBroadcast handles /breakout broadcast
func (b *Bot) handleBroadcast(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)
	message := opts["message"].StringValue()

	deferResponse(s, i)

	result := b.exec.BroadcastToRooms(b.context(), i.GuildID, message)
	b.editResponse(s, i, result.Message)
}

// handleStatus handles /breakout status
func (b *Bot) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var sb strings.Builder

	if op, err := b.repo.GetCurrentOperation(i.GuildID); err == nil && op != nil && !op.Completed {
		sb.WriteString(fmt.Sprintf("Operation in progress: `%s` (%d step(s) done). Re-run `/breakout %s` to resume.\n", op.Type, len(op.Steps), op.Type))
	}

	if t, err := b.repo.GetTimerData(i.GuildID); err == nil && t != nil {
		sb.WriteString(fmt.Sprintf("Timer: %d minute session, started <t:%d:R>.\n", t.TotalMinutes, t.StartTime.Unix()))
	}

	tracked := b.exec.TrackedRooms(i.GuildID)
	if len(tracked) > 0 {
		sb.WriteString(fmt.Sprintf("Tracked rooms: %d\n", len(tracked)))
	}

	if history, err := b.repo.OperationHistory(i.GuildID); err == nil && len(history) > 0 {
		sb.WriteString(fmt.Sprintf("Completed operations on record: %d\n", len(history)))
	}

	if sb.Len() == 0 {
		sb.WriteString("No breakout session activity.")
	}
	respondWithMessage(s, i, sb.String())
}

// Helper functions

func (b *Bot) context() context.Context {
	if b.ctx != nil {
		return b.ctx
	}
	return context.Background()
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func boolOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	if opt, ok := opts[name]; ok {
		return opt.BoolValue()
	}
	return false
}

func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
