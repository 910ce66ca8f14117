// Package timer runs per-guild breakout session timers: a five-minute
// warning and an end-of-session announcement, both delivered to the rooms'
// companion text channels. Timer state lives in the operation store so a
// restarted process can re-arm a session through Resume; the bot does this
// per guild when the gateway reports ready.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/britzoneid/BritzoneBot/internal/executor"
	"github.com/britzoneid/BritzoneBot/internal/session"
	"github.com/britzoneid/BritzoneBot/internal/store"
)

const (
	warningThreshold = 5 * time.Minute

	// Bounded retry for room broadcasts
	broadcastAttempts = 3
	broadcastDelay    = 2 * time.Second
)

// Monitor watches wall-clock progress of breakout sessions.
type Monitor struct {
	repo     *store.Repository
	exec     *executor.Executor
	interval time.Duration

	mu    sync.Mutex
	loops map[string]chan struct{}
	wg    sync.WaitGroup
}

// New creates a Monitor polling at the given interval.
func New(repo *store.Repository, exec *executor.Executor, pollSeconds int) *Monitor {
	return &Monitor{
		repo:     repo,
		exec:     exec,
		interval: time.Duration(pollSeconds) * time.Second,
		loops:    make(map[string]chan struct{}),
	}
}

// StartTimer persists a fresh timer for the guild and starts its monitoring
// loop, superseding any previous timer.
func (m *Monitor) StartTimer(ctx context.Context, guildID string, minutes int, roomIDs []string) error {
	record := &store.TimerRecord{
		GuildID:      guildID,
		TotalMinutes: minutes,
		StartTime:    time.Now(),
		RoomIDs:      roomIDs,
		// A session shorter than the warning threshold never warns
		FiveMinWarningSent: time.Duration(minutes)*time.Minute <= warningThreshold,
	}
	if err := m.repo.SetTimerData(record); err != nil {
		return fmt.Errorf("failed to persist timer: %w", err)
	}

	m.startLoop(ctx, guildID)
	slog.Info("Timer started", "guildID", guildID, "minutes", minutes)
	return nil
}

// Resume re-arms monitoring for a guild whose timer record survived a
// restart. Returns false when no timer is stored.
func (m *Monitor) Resume(ctx context.Context, guildID string) (bool, error) {
	record, err := m.repo.GetTimerData(guildID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	m.startLoop(ctx, guildID)
	slog.Info("Timer resumed", "guildID", guildID, "remaining", record.Remaining(time.Now()))
	return true, nil
}

// CancelTimer clears the guild's timer and stops its loop.
func (m *Monitor) CancelTimer(guildID string) error {
	if err := m.repo.ClearTimerData(guildID); err != nil {
		return err
	}
	m.stopLoop(guildID)
	return nil
}

// Stop terminates all monitoring loops and waits for them to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for guildID, stop := range m.loops {
		close(stop)
		delete(m.loops, guildID)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) startLoop(ctx context.Context, guildID string) {
	m.mu.Lock()
	if old, ok := m.loops[guildID]; ok {
		close(old)
	}
	stop := make(chan struct{})
	m.loops[guildID] = stop
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, guildID, stop)
}

func (m *Monitor) stopLoop(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.loops[guildID]; ok {
		close(stop)
		delete(m.loops, guildID)
	}
}

// removeLoop deregisters a finished loop, but only when the registered
// channel is still its own; a superseding StartTimer may have replaced it.
func (m *Monitor) removeLoop(guildID string, stop chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.loops[guildID]; ok && cur == stop {
		delete(m.loops, guildID)
	}
}

// run is the self-rescheduling loop: the next tick is armed only after the
// current tick's work settles, so slow broadcasts never overlap ticks.
func (m *Monitor) run(ctx context.Context, guildID string, stop chan struct{}) {
	defer m.wg.Done()

	for {
		if m.tick(ctx, guildID) {
			m.removeLoop(guildID, stop)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(m.interval):
		}
	}
}

// tick runs one poll. Returns true when the timer is finished or gone.
// Errors are logged and the loop continues.
func (m *Monitor) tick(ctx context.Context, guildID string) bool {
	record, err := m.repo.GetTimerData(guildID)
	if err != nil {
		slog.Error("Timer tick failed to load state", "guildID", guildID, "error", err)
		return false
	}
	if record == nil {
		// Cancelled externally
		return true
	}

	remaining := record.Remaining(time.Now())

	if remaining <= 0 {
		m.broadcast(ctx, guildID, record.RoomIDs, "Time's up! The breakout session has ended. Please return to the main room.")
		if err := m.repo.ClearTimerData(guildID); err != nil {
			slog.Error("Failed to clear finished timer", "guildID", guildID, "error", err)
		}
		slog.Info("Timer finished", "guildID", guildID)
		return true
	}

	if remaining <= warningThreshold && !record.FiveMinWarningSent {
		m.broadcast(ctx, guildID, record.RoomIDs, "5 minutes remaining in this breakout session!")
		record.FiveMinWarningSent = true
		if err := m.repo.SetTimerData(record); err != nil {
			slog.Error("Failed to persist warning flag", "guildID", guildID, "error", err)
		}
	}

	return false
}

// broadcast delivers a message to each room with bounded retry; rooms are
// independent, one unreachable room does not block the rest.
func (m *Monitor) broadcast(ctx context.Context, guildID string, roomIDs []string, message string) {
	for _, room := range m.resolveRooms(guildID, roomIDs) {
		for attempt := 1; attempt <= broadcastAttempts; attempt++ {
			if res := m.exec.SendToRoom(ctx, guildID, room, message); res.Success {
				break
			}
			if attempt < broadcastAttempts {
				time.Sleep(broadcastDelay)
			} else {
				slog.Warn("Giving up on room broadcast", "guildID", guildID, "room", room.Name, "attempts", broadcastAttempts)
			}
		}
	}
}

// resolveRooms matches persisted room IDs against the current session
// registry, falling back to bare IDs for rooms no longer tracked.
func (m *Monitor) resolveRooms(guildID string, roomIDs []string) []session.Room {
	tracked := make(map[string]session.Room)
	for _, room := range m.exec.TrackedRooms(guildID) {
		tracked[room.ID] = room
	}

	resolved := make([]session.Room, 0, len(roomIDs))
	for _, id := range roomIDs {
		if room, ok := tracked[id]; ok {
			resolved = append(resolved, room)
		} else {
			resolved = append(resolved, session.Room{ID: id, Name: id})
		}
	}
	return resolved
}
