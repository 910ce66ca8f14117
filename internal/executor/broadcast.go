package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/britzoneid/BritzoneBot/internal/session"
)

// BroadcastToRooms sends a message to every tracked breakout room's
// companion text channel. Individual room failures are collected rather than
// aborting the batch.
func (e *Executor) BroadcastToRooms(ctx context.Context, guildID, message string) Result {
	tracked, err := e.trackedRooms(ctx, guildID)
	if err != nil {
		slog.Error("Failed to find breakout rooms", "guildID", guildID, "error", err)
		return failure("Could not look up breakout rooms. Try again.")
	}
	if len(tracked) == 0 {
		return failure("No breakout rooms found.")
	}

	sent, failed := 0, 0
	for _, room := range tracked {
		if res := e.SendToRoom(ctx, guildID, room, message); res.Success {
			sent++
		} else {
			failed++
		}
	}

	if sent == 0 {
		return failure("Could not deliver the message to any room.")
	}
	msg := fmt.Sprintf("Message sent to %d room(s).", sent)
	if failed > 0 {
		msg += fmt.Sprintf(" %d room(s) could not be reached.", failed)
	}
	return success("%s", msg)
}

// SendToRoom delivers a message to one room's companion text channel.
func (e *Executor) SendToRoom(ctx context.Context, guildID string, room session.Room, message string) Result {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	channelID, ok := e.platform.CompanionTextChannel(callCtx, guildID, room.Name)
	if !ok {
		slog.Warn("No companion text channel for room", "guildID", guildID, "room", room.Name)
		return failure("No text channel found for `%s`.", room.Name)
	}

	if err := e.platform.SendMessage(callCtx, channelID, message); err != nil {
		slog.Warn("Failed to send room message", "guildID", guildID, "room", room.Name, "error", err)
		return failure("Could not send the message to `%s`.", room.Name)
	}
	return success("Message sent to `%s`.", room.Name)
}
