package parkour

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Event is a host event consumed by Controller.Handle.
type Event interface {
	// PlayerID returns the player the event concerns.
	PlayerID() uuid.UUID
}

// EventJoin is emitted when a player joins the server.
type EventJoin struct {
	Player uuid.UUID
	Name   string
}

// EventQuit is emitted when a player quits the server.
type EventQuit struct {
	Player uuid.UUID
}

// EventMove is emitted when a player moves.
type EventMove struct {
	Player   uuid.UUID
	Position mgl64.Vec3
}

// EventStart is emitted when a player asks for a new run. Starting while a
// run is active resets it.
type EventStart struct {
	Player uuid.UUID
	Name   string
}

// EventStop is emitted when a player leaves parkour without quitting.
type EventStop struct {
	Player uuid.UUID
}

func (e EventJoin) PlayerID() uuid.UUID  { return e.Player }
func (e EventQuit) PlayerID() uuid.UUID  { return e.Player }
func (e EventMove) PlayerID() uuid.UUID  { return e.Player }
func (e EventStart) PlayerID() uuid.UUID { return e.Player }
func (e EventStop) PlayerID() uuid.UUID  { return e.Player }

// Tone is the presentation hint of a message.
type Tone uint8

const (
	ToneInfo Tone = iota
	ToneSuccess
	ToneError
)

// Message is a chat line for the player.
type Message struct {
	Tone Tone
	Text string
}

// Score is the scoreboard view of a session.
type Score struct {
	Title    string
	Player   string
	Distance int
	Best     int
	Goal     string
}

// Reply lists what the host should show the player after an event.
type Reply struct {
	Messages []Message
	// Score, when set, replaces the player's scoreboard.
	Score *Score
	// ClearScore removes the player's scoreboard.
	ClearScore bool
	// Progress is the classification of an EventMove.
	Progress ProgressEvent
}

func (r *Reply) say(tone Tone, text string) {
	r.Messages = append(r.Messages, Message{Tone: tone, Text: text})
}
