// Package rooms abstracts the Discord channel and member operations the
// breakout executors depend on, so they can be exercised against a fake in
// tests and resolved lazily against live guild state at runtime.
package rooms

import (
	"context"

	"github.com/britzoneid/BritzoneBot/internal/planner"
	"github.com/britzoneid/BritzoneBot/internal/session"
)

// Platform is the set of chat-platform capabilities the executors and the
// timer monitor consume. All calls are guild-scoped.
type Platform interface {
	// CreateVoiceRoom creates a voice channel and returns its reference.
	CreateVoiceRoom(ctx context.Context, guildID, name string) (session.Room, error)

	// DeleteRoom deletes a channel. Deleting a channel that no longer
	// exists returns ErrRoomNotFound.
	DeleteRoom(ctx context.Context, roomID string) error

	// VoiceRooms lists the guild's voice channels.
	VoiceRooms(ctx context.Context, guildID string) ([]session.Room, error)

	// RoomOccupants returns the members currently connected to a voice
	// channel.
	RoomOccupants(ctx context.Context, guildID, roomID string) ([]planner.Member, error)

	// MoveMember moves a guild member into a voice channel.
	MoveMember(ctx context.Context, guildID, memberID, roomID string) error

	// ResolveMember looks up a live guild member by ID. A member who has
	// left the guild returns ErrMemberNotFound.
	ResolveMember(ctx context.Context, guildID, memberID string) (planner.Member, error)

	// SendMessage posts a text message to a channel.
	SendMessage(ctx context.Context, channelID, content string) error

	// CompanionTextChannel finds the text channel associated with a voice
	// room, or false when none matches.
	CompanionTextChannel(ctx context.Context, guildID, roomName string) (string, bool)
}
