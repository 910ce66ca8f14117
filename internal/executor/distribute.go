package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/britzoneid/BritzoneBot/internal/planner"
	"github.com/britzoneid/BritzoneBot/internal/rooms"
	"github.com/britzoneid/BritzoneBot/internal/session"
	"github.com/britzoneid/BritzoneBot/internal/store"
)

// ExecuteDistribute moves participants into breakout rooms according to plan.
// On resume the plan is rebuilt from the persisted snapshot rather than the
// caller's fresh plan, since a new invocation's shuffle may differ; members
// who have left the guild since are logged and skipped.
func (e *Executor) ExecuteDistribute(ctx context.Context, guildID, mainRoomID string, plan map[string][]planner.Member, force bool) Result {
	current, err := e.resumable(guildID, store.OperationDistribute)
	if err != nil {
		slog.Error("Failed to read operation state", "guildID", guildID, "error", err)
		return failure("Something went wrong reading saved progress. Run `/breakout distribute` again to retry.")
	}
	resuming := current != nil

	if resuming {
		mainRoomID = current.Params.MainRoomID
		plan = e.rebuildPlan(ctx, guildID, current.Params.Distribution)
		slog.Info("Resuming distribute operation", "guildID", guildID, "rooms", len(plan))
	} else {
		if other, ok := e.conflictingOperation(guildID, store.OperationDistribute); ok {
			return failure("A `%s` operation is still in progress. Re-run `/breakout %s` to finish it first.", other, other)
		}

		tracked, err := e.trackedRooms(ctx, guildID)
		if err != nil {
			slog.Error("Failed to find breakout rooms", "guildID", guildID, "error", err)
			return failure("Could not look up breakout rooms. Run `/breakout distribute` again to retry.")
		}
		if len(tracked) == 0 {
			return failure("No breakout rooms found. Run `/breakout create` first.")
		}

		if !force {
			occupied, err := e.anyRoomOccupied(ctx, guildID, tracked)
			if err != nil {
				slog.Error("Failed to check room occupancy", "guildID", guildID, "error", err)
				return failure("Could not check room occupancy. Run `/breakout distribute` again to retry.")
			}
			if occupied {
				return failure("A distribution already looks active (breakout rooms are occupied). Re-run with `force` to distribute anyway.")
			}
		}

		params := store.OperationParams{
			MainRoomID:   mainRoomID,
			Distribution: make(map[string][]string, len(plan)),
		}
		for roomID, members := range plan {
			ids := make([]string, len(members))
			for i, m := range members {
				ids[i] = m.ID
			}
			params.Distribution[roomID] = ids
		}
		if err := e.repo.StartOperation(guildID, store.OperationDistribute, params); err != nil {
			slog.Error("Failed to start distribute operation", "guildID", guildID, "error", err)
			return failure("Could not save operation state. Run `/breakout distribute` again to retry.")
		}
	}

	steps, err := e.repo.GetCompletedSteps(guildID)
	if err != nil {
		slog.Error("Failed to load completed steps", "guildID", guildID, "error", err)
		return failure("Could not load saved progress. Run `/breakout distribute` again to resume.")
	}

	if _, ok := steps["main_room_recorded"]; !ok {
		e.repo.UpdateProgress(guildID, "main_room_recorded", store.StepRecord{RoomID: mainRoomID})
	}
	e.registry.SetMainRoom(guildID, session.Room{ID: mainRoomID})

	moves := &MoveResults{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for roomID, members := range plan {
		for _, member := range members {
			key := fmt.Sprintf("move_user_%s_to_%s", member.ID, roomID)
			if _, ok := steps[key]; ok {
				// Moved on a previous attempt
				mu.Lock()
				moves.Succeeded = append(moves.Succeeded, member.DisplayName)
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(roomID string, member planner.Member, key string) {
				defer wg.Done()

				callCtx, cancel := context.WithTimeout(ctx, callTimeout)
				defer cancel()

				if err := e.platform.MoveMember(callCtx, guildID, member.ID, roomID); err != nil {
					slog.Warn("Failed to move member", "guildID", guildID, "member", member.DisplayName, "room", roomID, "error", err)
					mu.Lock()
					moves.Failed = append(moves.Failed, member.DisplayName)
					mu.Unlock()
					return
				}

				e.repo.UpdateProgress(guildID, key, store.StepRecord{MemberID: member.ID, RoomID: roomID})
				mu.Lock()
				moves.Succeeded = append(moves.Succeeded, member.DisplayName)
				mu.Unlock()
			}(roomID, member, key)
		}
	}
	wg.Wait()

	if _, ok := steps["distribution_complete"]; !ok {
		e.repo.UpdateProgress(guildID, "distribution_complete", store.StepRecord{
			MovedCount: len(moves.Succeeded),
			Failed:     len(moves.Failed),
		})
	}

	if err := e.repo.CompleteOperation(guildID); err != nil {
		slog.Error("Failed to complete distribute operation", "guildID", guildID, "error", err)
	}

	msg := fmt.Sprintf("Distributed %d participant(s) across %d room(s).", len(moves.Succeeded), len(plan))
	if resuming {
		msg = "Resumed distribution. " + msg
	}
	if len(moves.Failed) > 0 {
		msg += fmt.Sprintf(" %d move(s) failed; those participants stay where they are.", len(moves.Failed))
	}
	return Result{Success: true, Message: msg, Moves: moves}
}

// rebuildPlan re-resolves a persisted id-based distribution against live
// guild members. Departed members are dropped with a warning.
func (e *Executor) rebuildPlan(ctx context.Context, guildID string, distribution map[string][]string) map[string][]planner.Member {
	plan := make(map[string][]planner.Member, len(distribution))
	for roomID, memberIDs := range distribution {
		for _, id := range memberIDs {
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			member, err := e.platform.ResolveMember(callCtx, guildID, id)
			cancel()
			if errors.Is(err, rooms.ErrMemberNotFound) {
				slog.Warn("Member left since distribution was planned, skipping", "guildID", guildID, "member", id)
				continue
			}
			if err != nil {
				slog.Warn("Could not resolve member, skipping", "guildID", guildID, "member", id, "error", err)
				continue
			}
			plan[roomID] = append(plan[roomID], member)
		}
	}
	return plan
}

// anyRoomOccupied reports whether any of the rooms currently has occupants.
func (e *Executor) anyRoomOccupied(ctx context.Context, guildID string, tracked []session.Room) (bool, error) {
	for _, room := range tracked {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		occupants, err := e.platform.RoomOccupants(callCtx, guildID, room.ID)
		cancel()
		if err != nil {
			return false, err
		}
		if len(occupants) > 0 {
			return true, nil
		}
	}
	return false, nil
}
