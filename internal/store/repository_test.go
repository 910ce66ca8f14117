package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, historyLimit int) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "data", "bot.db"), historyLimit)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestStartAndGetOperation(t *testing.T) {
	repo := newTestRepository(t, 50)

	require.NoError(t, repo.StartOperation("g1", OperationCreate, OperationParams{RoomCount: 4}))

	assert.True(t, repo.HasOperationInProgress("g1"))
	assert.False(t, repo.HasOperationInProgress("g2"))

	op, err := repo.GetCurrentOperation("g1")
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, OperationCreate, op.Type)
	assert.Equal(t, 4, op.Params.RoomCount)
	assert.False(t, op.Completed)
	assert.Empty(t, op.Steps)
}

func TestGetCurrentOperationAbsent(t *testing.T) {
	repo := newTestRepository(t, 50)

	op, err := repo.GetCurrentOperation("nobody")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestStartOperationOverwritesPrevious(t *testing.T) {
	repo := newTestRepository(t, 50)

	require.NoError(t, repo.StartOperation("g1", OperationCreate, OperationParams{RoomCount: 2}))
	require.True(t, repo.UpdateProgress("g1", "create_room_1", StepRecord{RoomID: "r1"}))

	require.NoError(t, repo.StartOperation("g1", OperationEnd, OperationParams{MainRoomID: "main"}))

	op, err := repo.GetCurrentOperation("g1")
	require.NoError(t, err)
	assert.Equal(t, OperationEnd, op.Type)
	// Steps from the replaced operation must not leak into the new one
	assert.Empty(t, op.Steps)
}

func TestUpdateProgressIdempotent(t *testing.T) {
	repo := newTestRepository(t, 50)
	require.NoError(t, repo.StartOperation("g1", OperationCreate, OperationParams{RoomCount: 1}))

	require.True(t, repo.UpdateProgress("g1", "create_room_1", StepRecord{RoomID: "old"}))
	require.True(t, repo.UpdateProgress("g1", "create_room_1", StepRecord{RoomID: "new"}))

	steps, err := repo.GetCompletedSteps("g1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	// Latest payload wins
	assert.Equal(t, "new", steps["create_room_1"].RoomID)
	assert.True(t, steps["create_room_1"].Completed)
	assert.False(t, steps["create_room_1"].Timestamp.IsZero())
}

func TestUpdateProgressWithoutOperation(t *testing.T) {
	repo := newTestRepository(t, 50)

	assert.False(t, repo.UpdateProgress("g1", "create_room_1", StepRecord{}))

	steps, err := repo.GetCompletedSteps("g1")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestCompleteOperationCapsHistory(t *testing.T) {
	repo := newTestRepository(t, 50)

	for i := 0; i < 60; i++ {
		require.NoError(t, repo.StartOperation("g1", OperationCreate, OperationParams{RoomCount: i}))
		require.NoError(t, repo.CompleteOperation("g1"))
	}

	assert.False(t, repo.HasOperationInProgress("g1"))

	history, err := repo.OperationHistory("g1")
	require.NoError(t, err)
	require.Len(t, history, 50)
	// Newest first: the last completed operation had RoomCount 59
	assert.Equal(t, 59, history[0].Params.RoomCount)
	assert.Equal(t, 10, history[49].Params.RoomCount)
}

func TestCompleteOperationWithoutActive(t *testing.T) {
	repo := newTestRepository(t, 50)
	assert.Error(t, repo.CompleteOperation("g1"))
}

func TestCompleteOperationClearsSteps(t *testing.T) {
	repo := newTestRepository(t, 50)

	require.NoError(t, repo.StartOperation("g1", OperationDistribute, OperationParams{MainRoomID: "main"}))
	require.True(t, repo.UpdateProgress("g1", "main_room_recorded", StepRecord{RoomID: "main"}))
	require.NoError(t, repo.CompleteOperation("g1"))

	op, err := repo.GetCurrentOperation("g1")
	require.NoError(t, err)
	assert.Nil(t, op)

	steps, err := repo.GetCompletedSteps("g1")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestTimerDataIndependentOfOperations(t *testing.T) {
	repo := newTestRepository(t, 50)

	record := &TimerRecord{
		GuildID:      "g1",
		TotalMinutes: 30,
		StartTime:    time.Now(),
		RoomIDs:      []string{"r1", "r2"},
	}
	require.NoError(t, repo.SetTimerData(record))

	// Operation lifecycle must not disturb the timer namespace
	require.NoError(t, repo.StartOperation("g1", OperationEnd, OperationParams{}))
	require.NoError(t, repo.CompleteOperation("g1"))

	got, err := repo.GetTimerData("g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 30, got.TotalMinutes)
	assert.Equal(t, []string{"r1", "r2"}, got.RoomIDs)
	assert.False(t, got.FiveMinWarningSent)

	got.FiveMinWarningSent = true
	require.NoError(t, repo.SetTimerData(got))

	reloaded, err := repo.GetTimerData("g1")
	require.NoError(t, err)
	assert.True(t, reloaded.FiveMinWarningSent)

	require.NoError(t, repo.ClearTimerData("g1"))
	cleared, err := repo.GetTimerData("g1")
	require.NoError(t, err)
	assert.Nil(t, cleared)
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db")

	repo, err := NewRepository(path, 50)
	require.NoError(t, err)
	require.NoError(t, repo.StartOperation("g1", OperationCreate, OperationParams{RoomCount: 3}))
	require.True(t, repo.UpdateProgress("g1", "create_room_1", StepRecord{RoomID: "r1"}))
	require.NoError(t, repo.Close())

	reopened, err := NewRepository(path, 50)
	require.NoError(t, err)
	defer reopened.Close()

	op, err := reopened.GetCurrentOperation("g1")
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, OperationCreate, op.Type)
	require.Len(t, op.Steps, 1)
	assert.Equal(t, "r1", op.Steps["create_room_1"].RoomID)
}
