package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/britzoneid/BritzoneBot/internal/rooms"
	"github.com/britzoneid/BritzoneBot/internal/session"
	"github.com/britzoneid/BritzoneBot/internal/store"
)

// ExecuteEnd moves every breakout-room occupant back to the main room and
// deletes the rooms. Reported moved/deleted totals are cumulative across
// resumed attempts: already-processed rooms contribute their persisted
// per-room counts, newly-processed rooms contribute live counts.
func (e *Executor) ExecuteEnd(ctx context.Context, guildID, mainRoomID string, force bool) Result {
	current, err := e.resumable(guildID, store.OperationEnd)
	if err != nil {
		slog.Error("Failed to read operation state", "guildID", guildID, "error", err)
		return failure("Something went wrong reading saved progress. Run `/breakout end` again to retry.")
	}
	resuming := current != nil

	var targets []session.Room
	var missing map[string]bool
	if resuming {
		mainRoomID = current.Params.MainRoomID
		targets, missing, err = e.resolveRecordedRooms(ctx, guildID, current.Params.RoomIDs)
		if err != nil {
			slog.Error("Failed to resolve recorded rooms", "guildID", guildID, "error", err)
			return failure("Could not look up breakout rooms. Run `/breakout end` again to resume.")
		}
		slog.Info("Resuming end operation", "guildID", guildID, "rooms", len(current.Params.RoomIDs))
	} else {
		if other, ok := e.conflictingOperation(guildID, store.OperationEnd); ok {
			return failure("A `%s` operation is still in progress. Re-run `/breakout %s` to finish it first.", other, other)
		}

		targets, err = e.trackedRooms(ctx, guildID)
		if err != nil {
			slog.Error("Failed to find breakout rooms", "guildID", guildID, "error", err)
			return failure("Could not look up breakout rooms. Run `/breakout end` again to retry.")
		}
		if len(targets) == 0 {
			return failure("No breakout rooms found.")
		}

		if !force {
			occupied, err := e.anyRoomOccupied(ctx, guildID, targets)
			if err != nil {
				slog.Error("Failed to check room occupancy", "guildID", guildID, "error", err)
				return failure("Could not check room occupancy. Run `/breakout end` again to retry.")
			}
			if !occupied {
				return failure("All breakout rooms are already empty. Re-run with `force` to delete them anyway.")
			}
		}

		roomIDs := make([]string, len(targets))
		for i, room := range targets {
			roomIDs[i] = room.ID
		}
		params := store.OperationParams{MainRoomID: mainRoomID, RoomIDs: roomIDs}
		if err := e.repo.StartOperation(guildID, store.OperationEnd, params); err != nil {
			slog.Error("Failed to start end operation", "guildID", guildID, "error", err)
			return failure("Could not save operation state. Run `/breakout end` again to retry.")
		}
	}

	steps, err := e.repo.GetCompletedSteps(guildID)
	if err != nil {
		slog.Error("Failed to load completed steps", "guildID", guildID, "error", err)
		return failure("Could not load saved progress. Run `/breakout end` again to resume.")
	}

	var movedTotal, deletedTotal int
	for _, room := range targets {
		processedKey := fmt.Sprintf("room_processed_%s", room.ID)
		if step, ok := steps[processedKey]; ok {
			movedTotal += step.MovedCount
			if _, deleted := steps[fmt.Sprintf("room_deleted_%s", room.ID)]; deleted {
				deletedTotal++
			}
			continue
		}

		if missing[room.ID] {
			// Deleted out-of-band: already processed, not an error.
			moved := countRecordedMoves(steps, room.ID)
			e.repo.UpdateProgress(guildID, fmt.Sprintf("room_deleted_%s", room.ID), store.StepRecord{RoomID: room.ID})
			e.repo.UpdateProgress(guildID, processedKey, store.StepRecord{RoomID: room.ID, MovedCount: moved})
			movedTotal += moved
			deletedTotal++
			continue
		}

		moved, deleted, res := e.endRoom(ctx, guildID, room, mainRoomID, steps)
		if res != nil {
			return *res
		}
		movedTotal += moved
		if deleted {
			deletedTotal++
		}
		e.repo.UpdateProgress(guildID, processedKey, store.StepRecord{RoomID: room.ID, MovedCount: moved})
	}

	e.registry.ClearSession(guildID)

	if err := e.repo.CompleteOperation(guildID); err != nil {
		slog.Error("Failed to complete end operation", "guildID", guildID, "error", err)
	}

	msg := fmt.Sprintf("Ended the breakout session: moved %d participant(s) back and deleted %d room(s).", movedTotal, deletedTotal)
	if resuming {
		msg = "Resumed. " + msg
	}
	return success("%s", msg)
}

// endRoom drains and deletes a single room. Returns a non-nil Result on a
// failure that should abort the run (leaving the operation resumable).
func (e *Executor) endRoom(ctx context.Context, guildID string, room session.Room, mainRoomID string, steps map[string]store.StepRecord) (moved int, deleted bool, abort *Result) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	occupants, err := e.platform.RoomOccupants(callCtx, guildID, room.ID)
	cancel()
	if err != nil {
		slog.Error("Failed to read room occupants", "guildID", guildID, "room", room.ID, "error", err)
		res := failure("Failed while ending room `%s`. Run `/breakout end` again to resume.", room.Name)
		return 0, false, &res
	}

	// Count members already moved out of this room on a previous attempt.
	moved = countRecordedMoves(steps, room.ID)

	var stuck []string
	for _, member := range occupants {
		key := fmt.Sprintf("member_moved_%s_from_%s", member.ID, room.ID)
		if _, ok := steps[key]; ok {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := e.platform.MoveMember(callCtx, guildID, member.ID, mainRoomID)
		cancel()
		if err != nil {
			// Keep trying the rest; the room stays undeleted below
			slog.Warn("Failed to move member back", "guildID", guildID, "member", member.DisplayName, "error", err)
			stuck = append(stuck, member.DisplayName)
			continue
		}
		e.repo.UpdateProgress(guildID, key, store.StepRecord{MemberID: member.ID, RoomID: room.ID})
		moved++
	}

	// Deleting the room now would disconnect the stuck members instead of
	// returning them; leave it and the operation record for a retry.
	if len(stuck) > 0 {
		res := failure("Could not move %s out of `%s`. Run `/breakout end` again to resume.", strings.Join(stuck, ", "), room.Name)
		return moved, false, &res
	}

	deleteKey := fmt.Sprintf("room_deleted_%s", room.ID)
	if _, ok := steps[deleteKey]; !ok {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := e.platform.DeleteRoom(callCtx, room.ID)
		cancel()
		if err != nil && !errors.Is(err, rooms.ErrRoomNotFound) {
			slog.Error("Failed to delete room", "guildID", guildID, "room", room.ID, "error", err)
			res := failure("Failed deleting room `%s`. Run `/breakout end` again to resume.", room.Name)
			return moved, false, &res
		}
		e.repo.UpdateProgress(guildID, deleteKey, store.StepRecord{RoomID: room.ID})
	}
	return moved, true, nil
}

// resolveRecordedRooms maps persisted room IDs to live rooms. Rooms deleted
// out-of-band stay in the list (flagged missing) so their recorded per-room
// payloads still count toward totals. A failed scan is an error, never an
// empty guild: treating it as "all rooms gone" would complete the operation
// without moving anyone.
func (e *Executor) resolveRecordedRooms(ctx context.Context, guildID string, roomIDs []string) ([]session.Room, map[string]bool, error) {
	voice, err := e.scanRooms(ctx, guildID)
	if err != nil {
		return nil, nil, err
	}
	live := make(map[string]session.Room)
	for _, room := range voice {
		live[room.ID] = room
	}

	targets := make([]session.Room, 0, len(roomIDs))
	missing := make(map[string]bool)
	for _, id := range roomIDs {
		if room, ok := live[id]; ok {
			targets = append(targets, room)
		} else {
			targets = append(targets, session.Room{ID: id, Name: id})
			missing[id] = true
		}
	}
	return targets, missing, nil
}

// countRecordedMoves tallies member_moved steps recorded for a room.
func countRecordedMoves(steps map[string]store.StepRecord, roomID string) int {
	count := 0
	for key, step := range steps {
		if step.MemberID != "" && key == fmt.Sprintf("member_moved_%s_from_%s", step.MemberID, roomID) {
			count++
		}
	}
	return count
}
