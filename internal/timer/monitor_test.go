package timer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britzoneid/BritzoneBot/internal/executor"
	"github.com/britzoneid/BritzoneBot/internal/planner"
	"github.com/britzoneid/BritzoneBot/internal/rooms"
	"github.com/britzoneid/BritzoneBot/internal/session"
	"github.com/britzoneid/BritzoneBot/internal/store"
)

// messagePlatform records sent messages; all channel/member operations are
// inert since the monitor only reads names and sends.
type messagePlatform struct {
	mu        sync.Mutex
	companion map[string]string   // room name -> text channel ID
	messages  map[string][]string // channel ID -> messages
}

func newMessagePlatform() *messagePlatform {
	return &messagePlatform{
		companion: make(map[string]string),
		messages:  make(map[string][]string),
	}
}

func (p *messagePlatform) sent(channelID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages[channelID]...)
}

func (p *messagePlatform) CreateVoiceRoom(context.Context, string, string) (session.Room, error) {
	return session.Room{}, nil
}
func (p *messagePlatform) DeleteRoom(context.Context, string) error { return nil }
func (p *messagePlatform) VoiceRooms(context.Context, string) ([]session.Room, error) {
	return nil, nil
}
func (p *messagePlatform) RoomOccupants(context.Context, string, string) ([]planner.Member, error) {
	return nil, nil
}
func (p *messagePlatform) MoveMember(context.Context, string, string, string) error { return nil }
func (p *messagePlatform) ResolveMember(context.Context, string, string) (planner.Member, error) {
	return planner.Member{}, rooms.ErrMemberNotFound
}
func (p *messagePlatform) SendMessage(_ context.Context, channelID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[channelID] = append(p.messages[channelID], content)
	return nil
}
func (p *messagePlatform) CompanionTextChannel(_ context.Context, _, roomName string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.companion[roomName]
	return ch, ok
}

func newTestMonitor(t *testing.T) (*Monitor, *store.Repository, *session.Registry, *messagePlatform) {
	t.Helper()

	repo, err := store.NewRepository(filepath.Join(t.TempDir(), "bot.db"), 50)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	registry := session.NewRegistry()
	platform := newMessagePlatform()
	exec := executor.New(repo, registry, platform, "breakout-room")
	monitor := New(repo, exec, 30)
	t.Cleanup(monitor.Stop)
	return monitor, repo, registry, platform
}

func TestStartTimerShortSessionSkipsWarning(t *testing.T) {
	monitor, repo, _, _ := newTestMonitor(t)

	// 3 minutes is already inside the warning threshold, so the warning
	// branch must never fire.
	require.NoError(t, monitor.StartTimer(context.Background(), "g1", 3, []string{"r1"}))

	record, err := repo.GetTimerData("g1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.FiveMinWarningSent)
	assert.Equal(t, 3, record.TotalMinutes)
}

func TestTickSendsWarningOnce(t *testing.T) {
	monitor, repo, registry, platform := newTestMonitor(t)

	registry.StoreRooms("g1", []session.Room{{ID: "r1", Name: "breakout-room-1"}})
	platform.companion["breakout-room-1"] = "text-1"

	// 10 minute session started 6 minutes ago: 4 minutes remain
	require.NoError(t, repo.SetTimerData(&store.TimerRecord{
		GuildID:      "g1",
		TotalMinutes: 10,
		StartTime:    time.Now().Add(-6 * time.Minute),
		RoomIDs:      []string{"r1"},
	}))

	done := monitor.tick(context.Background(), "g1")
	assert.False(t, done)

	msgs := platform.sent("text-1")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "5 minutes")

	record, err := repo.GetTimerData("g1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.FiveMinWarningSent)

	// A second tick must not repeat the warning
	done = monitor.tick(context.Background(), "g1")
	assert.False(t, done)
	assert.Len(t, platform.sent("text-1"), 1)
}

func TestTickEndsElapsedTimer(t *testing.T) {
	monitor, repo, registry, platform := newTestMonitor(t)

	registry.StoreRooms("g1", []session.Room{{ID: "r1", Name: "breakout-room-1"}})
	platform.companion["breakout-room-1"] = "text-1"

	require.NoError(t, repo.SetTimerData(&store.TimerRecord{
		GuildID:            "g1",
		TotalMinutes:       3,
		StartTime:          time.Now().Add(-10 * time.Minute),
		RoomIDs:            []string{"r1"},
		FiveMinWarningSent: true,
	}))

	done := monitor.tick(context.Background(), "g1")
	assert.True(t, done)

	msgs := platform.sent("text-1")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "ended")

	record, err := repo.GetTimerData("g1")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestTickStopsWhenTimerCancelled(t *testing.T) {
	monitor, _, _, platform := newTestMonitor(t)

	// No record stored: cancelled externally, loop stops silently
	done := monitor.tick(context.Background(), "g1")
	assert.True(t, done)
	assert.Empty(t, platform.sent("text-1"))
}

func TestCancelTimer(t *testing.T) {
	monitor, repo, _, _ := newTestMonitor(t)

	require.NoError(t, monitor.StartTimer(context.Background(), "g1", 30, []string{"r1"}))
	require.NoError(t, monitor.CancelTimer("g1"))

	record, err := repo.GetTimerData("g1")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestResume(t *testing.T) {
	monitor, repo, _, _ := newTestMonitor(t)

	resumed, err := monitor.Resume(context.Background(), "g1")
	require.NoError(t, err)
	assert.False(t, resumed)

	require.NoError(t, repo.SetTimerData(&store.TimerRecord{
		GuildID:      "g1",
		TotalMinutes: 30,
		StartTime:    time.Now(),
		RoomIDs:      []string{"r1"},
	}))

	resumed, err = monitor.Resume(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, resumed)
}
