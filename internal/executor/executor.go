// Package executor implements the checkpointed breakout operations. Each
// operation records every completed sub-step in the durable store before
// moving on, so a crashed run can be re-invoked and resume from the last
// recorded step without repeating external side effects.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/britzoneid/BritzoneBot/internal/rooms"
	"github.com/britzoneid/BritzoneBot/internal/session"
	"github.com/britzoneid/BritzoneBot/internal/store"
)

const (
	// callTimeout bounds each individual platform call so one stuck
	// request cannot stall a whole operation.
	callTimeout = 10 * time.Second
)

// Result is the caller-facing outcome of an operation. Message always
// suggests the concrete recovery action on failure.
type Result struct {
	Success bool
	Message string
	Moves   *MoveResults
}

// MoveResults aggregates per-member move outcomes for a distribution.
type MoveResults struct {
	Succeeded []string
	Failed    []string
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

func success(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Executor runs the create/distribute/end operations against the platform,
// checkpointing through the operation store.
type Executor struct {
	repo     *store.Repository
	registry *session.Registry
	platform rooms.Platform
	prefix   string
}

// New creates an Executor. prefix is the naming convention for breakout
// rooms ("<prefix>-<n>"), also used to rediscover rooms after a restart.
func New(repo *store.Repository, registry *session.Registry, platform rooms.Platform, prefix string) *Executor {
	return &Executor{
		repo:     repo,
		registry: registry,
		platform: platform,
		prefix:   prefix,
	}
}

// roomName builds the conventional name for the i-th breakout room (1-based).
func (e *Executor) roomName(i int) string {
	return fmt.Sprintf("%s-%d", e.prefix, i)
}

// resumable returns the guild's in-progress operation when its type matches
// opType, deciding the resume path exactly once at entry.
func (e *Executor) resumable(guildID string, opType store.OperationType) (*store.OperationRecord, error) {
	current, err := e.repo.GetCurrentOperation(guildID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Completed || current.Type != opType {
		return nil, nil
	}
	return current, nil
}

// conflictingOperation reports an in-progress operation of a different type.
func (e *Executor) conflictingOperation(guildID string, opType store.OperationType) (store.OperationType, bool) {
	current, err := e.repo.GetCurrentOperation(guildID)
	if err != nil || current == nil || current.Completed {
		return "", false
	}
	if current.Type != opType {
		return current.Type, true
	}
	return "", false
}

// Platform exposes the underlying platform for callers that need direct
// occupancy reads, such as the command layer building a fresh plan.
func (e *Executor) Platform() rooms.Platform {
	return e.platform
}

// TrackedRooms returns the registry's cached rooms for the guild (no
// platform fallback); used by the timer monitor to resolve room names.
func (e *Executor) TrackedRooms(guildID string) []session.Room {
	return e.registry.Rooms(guildID)
}

// BreakoutRooms returns the guild's breakout rooms, falling back to a live
// prefix scan when the registry is cold (for example after a restart).
func (e *Executor) BreakoutRooms(ctx context.Context, guildID string) ([]session.Room, error) {
	return e.trackedRooms(ctx, guildID)
}

// trackedRooms returns the guild's breakout rooms from the registry, falling
// back to a prefix scan of live voice channels when the cache is cold.
func (e *Executor) trackedRooms(ctx context.Context, guildID string) ([]session.Room, error) {
	if cached := e.registry.Rooms(guildID); len(cached) > 0 {
		return cached, nil
	}
	return e.scanRooms(ctx, guildID)
}

// scanRooms lists live voice channels matching the breakout naming
// convention.
func (e *Executor) scanRooms(ctx context.Context, guildID string) ([]session.Room, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	voice, err := e.platform.VoiceRooms(callCtx, guildID)
	if err != nil {
		return nil, err
	}

	var matched []session.Room
	for _, room := range voice {
		if strings.HasPrefix(room.Name, e.prefix+"-") {
			matched = append(matched, room)
		}
	}
	return matched, nil
}
