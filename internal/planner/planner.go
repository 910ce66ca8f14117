// Package planner builds random, balanced assignments of participants to
// breakout rooms.
package planner

import (
	"fmt"
	"math/rand"

	"github.com/britzoneid/BritzoneBot/internal/session"
)

// Member is a participant eligible for distribution.
type Member struct {
	ID          string
	DisplayName string
}

// Distribute partitions participants across rooms with a uniform-random
// shuffle followed by round-robin assignment, so per-room counts differ by at
// most one. The input slice is not mutated.
func Distribute(participants []Member, rooms []session.Room) (map[string][]Member, error) {
	if len(rooms) == 0 {
		return nil, fmt.Errorf("no rooms to distribute into")
	}

	shuffled := append([]Member(nil), participants...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	plan := make(map[string][]Member, len(rooms))
	for i, m := range shuffled {
		room := rooms[i%len(rooms)]
		plan[room.ID] = append(plan[room.ID], m)
	}
	return plan, nil
}
