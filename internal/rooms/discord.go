package rooms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/britzoneid/BritzoneBot/internal/planner"
	"github.com/britzoneid/BritzoneBot/internal/session"
)

var (
	// ErrRoomNotFound indicates the channel was deleted out-of-band.
	ErrRoomNotFound = errors.New("room not found")
	// ErrMemberNotFound indicates the member has left the guild.
	ErrMemberNotFound = errors.New("member not found")
)

// Discord implements Platform over a discordgo session.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord wraps a discordgo session as a Platform.
func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{session: s}
}

// CreateVoiceRoom creates a voice channel in the guild.
func (d *Discord) CreateVoiceRoom(ctx context.Context, guildID, name string) (session.Room, error) {
	ch, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildVoice,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return session.Room{}, fmt.Errorf("failed to create voice channel %s: %w", name, err)
	}
	return session.Room{ID: ch.ID, Name: ch.Name}, nil
}

// DeleteRoom deletes a channel, mapping a 404 to ErrRoomNotFound.
func (d *Discord) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := d.session.ChannelDelete(roomID, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", roomID, err)
	}
	return nil
}

// VoiceRooms lists the guild's voice channels.
func (d *Discord) VoiceRooms(ctx context.Context, guildID string) ([]session.Room, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	var voice []session.Room
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildVoice {
			voice = append(voice, session.Room{ID: ch.ID, Name: ch.Name})
		}
	}
	return voice, nil
}

// RoomOccupants reads current voice-channel occupancy from gateway state.
func (d *Discord) RoomOccupants(ctx context.Context, guildID, roomID string) ([]planner.Member, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not in state: %w", guildID, err)
	}

	var occupants []planner.Member
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != roomID {
			continue
		}
		m, err := d.ResolveMember(ctx, guildID, vs.UserID)
		if err != nil {
			// Voice state can outlive membership briefly
			continue
		}
		occupants = append(occupants, m)
	}
	return occupants, nil
}

// MoveMember moves a member into a voice channel.
func (d *Discord) MoveMember(ctx context.Context, guildID, memberID, roomID string) error {
	if err := d.session.GuildMemberMove(guildID, memberID, &roomID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to move member %s: %w", memberID, err)
	}
	return nil
}

// ResolveMember looks up a guild member, preferring gateway state over REST.
func (d *Discord) ResolveMember(ctx context.Context, guildID, memberID string) (planner.Member, error) {
	member, err := d.session.State.Member(guildID, memberID)
	if err != nil {
		member, err = d.session.GuildMember(guildID, memberID, discordgo.WithContext(ctx))
		if isNotFound(err) {
			return planner.Member{}, ErrMemberNotFound
		}
		if err != nil {
			return planner.Member{}, fmt.Errorf("failed to fetch member %s: %w", memberID, err)
		}
	}

	name := member.Nick
	if name == "" {
		name = member.User.Username
	}
	return planner.Member{ID: memberID, DisplayName: name}, nil
}

// SendMessage posts a plain text message.
func (d *Discord) SendMessage(ctx context.Context, channelID, content string) error {
	_, err := d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", channelID, err)
	}
	return nil
}

// CompanionTextChannel associates a voice room with its text channel by a
// naming-convention substring match. No explicit pairing is persisted when
// rooms are created, so this stays a best-effort lookup.
func (d *Discord) CompanionTextChannel(ctx context.Context, guildID, roomName string) (string, bool) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", false
	}

	want := normalizeChannelName(roomName)
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if strings.Contains(normalizeChannelName(ch.Name), want) {
			return ch.ID, true
		}
	}
	return "", false
}

func normalizeChannelName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
