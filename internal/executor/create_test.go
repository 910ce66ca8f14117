package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britzoneid/BritzoneBot/internal/session"
	"github.com/britzoneid/BritzoneBot/internal/store"
)

const testGuild = "guild-1"

func newTestExecutor(t *testing.T) (*Executor, *store.Repository, *session.Registry, *fakePlatform) {
	t.Helper()

	repo, err := store.NewRepository(filepath.Join(t.TempDir(), "bot.db"), 50)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	registry := session.NewRegistry()
	platform := newFakePlatform()
	exec := New(repo, registry, platform, "breakout-room")
	return exec, repo, registry, platform
}

func TestExecuteCreate(t *testing.T) {
	exec, repo, registry, platform := newTestExecutor(t)

	result := exec.ExecuteCreate(context.Background(), testGuild, 3, false)

	require.True(t, result.Success, result.Message)
	assert.Equal(t, []string{"breakout-room-1", "breakout-room-2", "breakout-room-3"}, platform.createdNames)
	assert.Len(t, registry.Rooms(testGuild), 3)
	assert.False(t, repo.HasOperationInProgress(testGuild))
}

func TestExecuteCreateRefusesExistingRooms(t *testing.T) {
	exec, _, _, platform := newTestExecutor(t)
	platform.addRoom("old-1", "breakout-room-1")

	result := exec.ExecuteCreate(context.Background(), testGuild, 3, false)

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "force")
	assert.Empty(t, platform.createdNames)
}

func TestExecuteCreateForceDeletesExistingRooms(t *testing.T) {
	exec, _, _, platform := newTestExecutor(t)
	platform.addRoom("old-1", "breakout-room-1")
	platform.addRoom("old-2", "breakout-room-2")

	result := exec.ExecuteCreate(context.Background(), testGuild, 2, true)

	require.True(t, result.Success, result.Message)
	platform.mu.Lock()
	defer platform.mu.Unlock()
	assert.Len(t, platform.rooms, 2)
	assert.NotContains(t, platform.rooms, "old-1")
	assert.NotContains(t, platform.rooms, "old-2")
}

func TestExecuteCreateResumesAfterCrash(t *testing.T) {
	exec, repo, registry, platform := newTestExecutor(t)

	// Simulate a crash right after creating rooms 1 and 2 of 5: the
	// operation record and two steps survived, the registry did not.
	room1 := platform.addRoom("r1", "breakout-room-1")
	room2 := platform.addRoom("r2", "breakout-room-2")
	require.NoError(t, repo.StartOperation(testGuild, store.OperationCreate, store.OperationParams{RoomCount: 5}))
	repo.UpdateProgress(testGuild, "create_room_1", store.StepRecord{RoomID: room1.ID})
	repo.UpdateProgress(testGuild, "create_room_2", store.StepRecord{RoomID: room2.ID})

	// The re-invocation's own room count must be ignored on resume.
	result := exec.ExecuteCreate(context.Background(), testGuild, 99, false)

	require.True(t, result.Success, result.Message)
	assert.Equal(t, []string{"breakout-room-3", "breakout-room-4", "breakout-room-5"}, platform.createdNames)
	assert.Len(t, registry.Rooms(testGuild), 5)
	assert.False(t, repo.HasOperationInProgress(testGuild))
}

func TestExecuteCreateResumeDoesNotDuplicateFirstRoom(t *testing.T) {
	exec, repo, registry, platform := newTestExecutor(t)

	room1 := platform.addRoom("r1", "breakout-room-1")
	require.NoError(t, repo.StartOperation(testGuild, store.OperationCreate, store.OperationParams{RoomCount: 2}))
	repo.UpdateProgress(testGuild, "create_room_1", store.StepRecord{RoomID: room1.ID})

	result := exec.ExecuteCreate(context.Background(), testGuild, 2, false)

	require.True(t, result.Success, result.Message)
	assert.Equal(t, []string{"breakout-room-2"}, platform.createdNames)

	platform.mu.Lock()
	total := len(platform.rooms)
	platform.mu.Unlock()
	assert.Equal(t, 2, total)
	assert.Len(t, registry.Rooms(testGuild), 2)
}

func TestExecuteCreateBlocksConflictingOperation(t *testing.T) {
	exec, repo, _, _ := newTestExecutor(t)
	require.NoError(t, repo.StartOperation(testGuild, store.OperationEnd, store.OperationParams{}))

	result := exec.ExecuteCreate(context.Background(), testGuild, 3, false)

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "end")
}
