package parkour

import (
	"fmt"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State uint8

const (
	// StateIdle is the zero state of a session that has not been stored yet.
	StateIdle State = iota
	// StateActive is the state of every session held by a SessionStore.
	StateActive
	// StateTerminated is the state of a session returned by Remove.
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Bounds is the axis-aligned region covering every block of an arena.
type Bounds struct {
	Min, Max cube.Pos
}

// Contains reports whether pos lies inside the bounds.
func (b Bounds) Contains(pos cube.Pos) bool {
	for i := range pos {
		if pos[i] < b.Min[i] || pos[i] > b.Max[i] {
			return false
		}
	}
	return true
}

func (b *Bounds) extend(pos cube.Pos) {
	for i := range pos {
		b.Min[i] = min(b.Min[i], pos[i])
		b.Max[i] = max(b.Max[i], pos[i])
	}
}

// Arena is the isolated world region of one session.
type Arena struct {
	ID     ArenaID
	Bounds Bounds
	// Blocks is the append-only log of placed blocks. Session snapshots share
	// its backing array and only ever read the prefix they were taken with.
	Blocks []cube.Pos
}

// Len returns the number of placed blocks.
func (a Arena) Len() int {
	return len(a.Blocks)
}

func (a *Arena) record(pos cube.Pos) {
	if len(a.Blocks) == 0 {
		a.Bounds = Bounds{Min: pos, Max: pos}
	} else {
		a.Bounds.extend(pos)
	}
	a.Blocks = append(a.Blocks, pos)
}

// Session is the parkour state of one player. Values returned by the store
// are snapshots; changes go through SessionStore.Update.
type Session struct {
	PlayerID uuid.UUID
	Name     string
	State    State

	ArenaID ArenaID
	Arena   Arena
	Spawn   mgl64.Vec3

	// CurrentDistance is the furthest X reached since the last fall.
	CurrentDistance int
	// BestDistance is the furthest X reached during the session.
	BestDistance int
	// FrontierX is the X of the furthest generated block.
	FrontierX int
	// Tail is the last generated block; the next segment continues from it.
	Tail cube.Pos
	Seed int64

	Falls     int
	Segments  int
	StartedAt time.Time
}

// Remaining returns how far the frontier lies ahead of the player.
func (s Session) Remaining() int {
	return s.FrontierX - s.CurrentDistance
}

// String returns a string representation of the session for debugging.
func (s Session) String() string {
	return fmt.Sprintf("Session{Player: %s, Name: %s, State: %s, Arena: %s, Distance: %d, Frontier: %d, Blocks: %d}",
		s.PlayerID, s.Name, s.State, s.ArenaID, s.CurrentDistance, s.FrontierX, s.Arena.Len())
}

// place records a materialized track block.
func (s *Session) place(pos cube.Pos) {
	s.Arena.record(pos)
	s.Tail = pos
	s.FrontierX = max(s.FrontierX, pos.X())
}

// check verifies the invariants a committed session must hold, given the
// previously committed state.
func (s *Session) check(prev Session) error {
	switch {
	case s.FrontierX < prev.FrontierX:
		return invalidf("frontier moved back from %d to %d", prev.FrontierX, s.FrontierX)
	case s.CurrentDistance > s.FrontierX:
		return invalidf("distance %d is beyond frontier %d", s.CurrentDistance, s.FrontierX)
	case s.Arena.Len() < prev.Arena.Len():
		return invalidf("arena block log shrank from %d to %d", prev.Arena.Len(), s.Arena.Len())
	}
	return nil
}
