// internal/quiz/commands.go
package quiz

import (
	"github.com/google/uuid"
)

// Sink is where a lobby pushes outbound messages for one attachment. Send
// must not block: it returns false when the consumer cannot keep up, and the
// lobby responds by dropping the attachment rather than stalling the loop.
type Sink interface {
	Send(msg any) bool
	Close(reason string)
}

// command is the internal sum type consumed by the lobby loop. Every state
// mutation enters through one of these, so application order is total.
type command interface{ isCommand() }

type attach struct {
	id     uuid.UUID
	viewer bool
	sink   Sink
}

// detach carries the sink it belongs to so a detach from an already-replaced
// connection cannot sever the replacement.
type detach struct {
	id   uuid.UUID
	sink Sink
}

// join admits a new participant. Executed inside the loop so the name
// uniqueness check cannot race.
type join struct {
	name string
	host bool
	out  *uuid.UUID
}

type submitAnswer struct {
	id   uuid.UUID
	text string
}

type startGame struct{ issuer uuid.UUID }

type startRound struct{ issuer uuid.UUID }

type endRound struct{ issuer uuid.UUID }

type skipQuestion struct{ issuer uuid.UUID }

type endGame struct{ issuer uuid.UUID }

type removeParticipant struct {
	issuer uuid.UUID
	target uuid.UUID
}

// closeLobby is terminal. system closes (gc, panic recovery) carry no issuer.
type closeLobby struct {
	issuer uuid.UUID
	system bool
	reason string
}

// tick is enqueued by the round timer; it ends the round once the deadline
// has passed. Late or duplicate ticks are harmless because the handler
// re-checks phase and deadline.
type tick struct{}

func (attach) isCommand()            {}
func (detach) isCommand()            {}
func (join) isCommand()              {}
func (submitAnswer) isCommand()      {}
func (startGame) isCommand()         {}
func (startRound) isCommand()        {}
func (endRound) isCommand()          {}
func (skipQuestion) isCommand()      {}
func (endGame) isCommand()           {}
func (removeParticipant) isCommand() {}
func (closeLobby) isCommand()        {}
func (tick) isCommand()              {}

type envelope struct {
	cmd  command
	errc chan error
}
