package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/britzoneid/BritzoneBot/internal/rooms"
	"github.com/britzoneid/BritzoneBot/internal/session"
	"github.com/britzoneid/BritzoneBot/internal/store"
)

// ExecuteCreate creates roomCount breakout rooms for the guild. If a create
// operation is already in progress (for example after a crash), the stored
// room count is used and already-created rooms are skipped.
func (e *Executor) ExecuteCreate(ctx context.Context, guildID string, roomCount int, force bool) Result {
	current, err := e.resumable(guildID, store.OperationCreate)
	if err != nil {
		slog.Error("Failed to read operation state", "guildID", guildID, "error", err)
		return failure("Something went wrong reading saved progress. Run `/breakout create` again to retry.")
	}
	resuming := current != nil

	if !resuming {
		if other, ok := e.conflictingOperation(guildID, store.OperationCreate); ok {
			return failure("A `%s` operation is still in progress. Re-run `/breakout %s` to finish it first.", other, other)
		}

		existing, err := e.scanRooms(ctx, guildID)
		if err != nil {
			slog.Error("Failed to scan existing rooms", "guildID", guildID, "error", err)
			return failure("Could not check existing rooms. Run `/breakout create` again to retry.")
		}
		if len(existing) > 0 {
			if !force {
				return failure("%d breakout room(s) already exist. Re-run with `force` to delete them and start over.", len(existing))
			}
			// Force path: remove old rooms fully before the new
			// operation record exists, so a crash here never leaves
			// a record pointing at deleted rooms.
			if res := e.deleteExistingRooms(ctx, guildID, existing); !res.Success {
				return res
			}
		}

		if err := e.repo.StartOperation(guildID, store.OperationCreate, store.OperationParams{RoomCount: roomCount}); err != nil {
			slog.Error("Failed to start create operation", "guildID", guildID, "error", err)
			return failure("Could not save operation state. Run `/breakout create` again to retry.")
		}
	} else {
		// The stored snapshot is the intent; a resume ignores the new
		// invocation's count.
		roomCount = current.Params.RoomCount
		slog.Info("Resuming create operation", "guildID", guildID, "roomCount", roomCount)
	}

	steps, err := e.repo.GetCompletedSteps(guildID)
	if err != nil {
		slog.Error("Failed to load completed steps", "guildID", guildID, "error", err)
		return failure("Could not load saved progress. Run `/breakout create` again to resume.")
	}

	created := make([]session.Room, 0, roomCount)
	for i := 1; i <= roomCount; i++ {
		name := e.roomName(i)
		key := fmt.Sprintf("create_room_%d", i)

		if step, ok := steps[key]; ok {
			created = append(created, session.Room{ID: step.RoomID, Name: name})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		room, err := e.platform.CreateVoiceRoom(callCtx, guildID, name)
		cancel()
		if err != nil {
			slog.Error("Failed to create room", "guildID", guildID, "room", name, "error", err)
			return failure("Failed while creating `%s` (%d of %d already done). Run `/breakout create` again to resume.", name, len(created), roomCount)
		}

		e.repo.UpdateProgress(guildID, key, store.StepRecord{RoomID: room.ID})
		created = append(created, room)
	}

	e.registry.StoreRooms(guildID, created)

	if err := e.repo.CompleteOperation(guildID); err != nil {
		slog.Error("Failed to complete create operation", "guildID", guildID, "error", err)
	}

	if resuming {
		return success("Resumed and finished creating %d breakout rooms.", len(created))
	}
	return success("Created %d breakout rooms.", len(created))
}

// deleteExistingRooms tears down leftover breakout rooms ahead of a forced
// create. Runs entirely before StartOperation.
func (e *Executor) deleteExistingRooms(ctx context.Context, guildID string, existing []session.Room) Result {
	for _, room := range existing {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := e.platform.DeleteRoom(callCtx, room.ID)
		cancel()
		if err != nil && !errors.Is(err, rooms.ErrRoomNotFound) {
			slog.Error("Failed to delete existing room", "guildID", guildID, "room", room.Name, "error", err)
			return failure("Could not delete existing room `%s`. Run `/breakout create` again with `force` to retry.", room.Name)
		}
	}
	e.registry.ClearSession(guildID)
	return Result{Success: true}
}
