package store

import "time"

// OperationType identifies one of the checkpointed breakout workflows.
type OperationType string

const (
	OperationCreate     OperationType = "create"
	OperationDistribute OperationType = "distribute"
	OperationEnd        OperationType = "end"
)

// OperationParams is the input snapshot captured when an operation starts,
// sufficient to resume later without re-deriving user intent.
type OperationParams struct {
	RoomCount  int      `json:"room_count,omitempty"`
	MainRoomID string   `json:"main_room_id,omitempty"`
	RoomIDs    []string `json:"room_ids,omitempty"`
	// Distribution maps room ID to the member IDs assigned to it.
	Distribution map[string][]string `json:"distribution,omitempty"`
}

// OperationRecord tracks one in-flight (or historical) operation for a guild.
// At most one active record exists per guild.
type OperationRecord struct {
	GuildID       string
	Type          OperationType
	Params        OperationParams
	Started       bool
	Completed     bool
	StartTime     time.Time
	CompletedTime time.Time
	Steps         map[string]StepRecord
}

// StepRecord marks one completed unit of work within an operation. The step
// key is derived from the sub-action's identity, so re-running the same
// logical step is a lookup rather than a repeated external call.
type StepRecord struct {
	Completed  bool      `json:"completed"`
	Timestamp  time.Time `json:"timestamp"`
	RoomID     string    `json:"room_id,omitempty"`
	MemberID   string    `json:"member_id,omitempty"`
	MovedCount int       `json:"moved_count,omitempty"`
	Failed     int       `json:"failed,omitempty"`
}

// TimerRecord holds the durable state of a session timer for a guild.
type TimerRecord struct {
	GuildID            string
	TotalMinutes       int
	StartTime          time.Time
	RoomIDs            []string
	FiveMinWarningSent bool
}

// Remaining returns the time left on the timer at the given instant.
func (t *TimerRecord) Remaining(now time.Time) time.Duration {
	end := t.StartTime.Add(time.Duration(t.TotalMinutes) * time.Minute)
	return end.Sub(now)
}
