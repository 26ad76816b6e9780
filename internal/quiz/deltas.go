// internal/quiz/deltas.go
package quiz

import "github.com/google/uuid"

// Outbound message type tags. Every frame sent to a client is one of these,
// tagged by its "type" field.
const (
	TypeFullState         = "FullState"
	TypePhaseChanged      = "PhaseChanged"
	TypeRoundStarted      = "RoundStarted"
	TypeAnswerReceived    = "AnswerReceived"
	TypeRoundEnded        = "RoundEnded"
	TypeGameEnded         = "GameEnded"
	TypeParticipantJoined = "ParticipantJoined"
	TypeParticipantLeft   = "ParticipantLeft"
	TypeLobbyClosed       = "LobbyClosed"
	TypeError             = "Error"
	TypePong              = "Pong"
)

// Phase is the lobby state-machine phase.
type Phase string

const (
	PhaseLobby    Phase = "Lobby"
	PhaseQuestion Phase = "Question"
	PhaseScore    Phase = "Score"
	PhaseGameOver Phase = "GameOver"
)

// ParticipantState is the public view of one participant.
type ParticipantState struct {
	ParticipantID  uuid.UUID `json:"participant_id"`
	Name           string    `json:"name"`
	Score          int       `json:"score"`
	LastRoundScore int       `json:"last_round_score"`
	IsHost         bool      `json:"is_host"`
	IsAttached     bool      `json:"is_attached"`
}

// RoundState describes the in-flight round inside a FullState snapshot.
type RoundState struct {
	QuestionID      string      `json:"question_id"`
	Alternatives    []string    `json:"alternatives"`
	DurationMS      int64       `json:"duration_ms"`
	ServerStartedAt int64       `json:"server_started_at"`
	Answered        []uuid.UUID `json:"answered"`
}

// FullState is the snapshot a freshly attached participant receives before
// any deltas.
type FullState struct {
	Type         string             `json:"type"`
	LobbyID      uuid.UUID          `json:"lobby_id"`
	JoinCode     string             `json:"join_code"`
	Phase        Phase              `json:"phase"`
	You          uuid.UUID          `json:"you,omitempty"`
	Participants []ParticipantState `json:"participants"`
	Round        *RoundState        `json:"round,omitempty"`
}

// PhaseChanged announces a bare phase transition (transitions with richer
// payloads use their dedicated delta instead).
type PhaseChanged struct {
	Type  string `json:"type"`
	Phase Phase  `json:"phase"`
}

// RoundStarted opens a question round. Clients derive the countdown from
// server_started_at + duration_ms; their local timers are cosmetic.
type RoundStarted struct {
	Type            string   `json:"type"`
	QuestionID      string   `json:"question_id"`
	Alternatives    []string `json:"alternatives"`
	DurationMS      int64    `json:"duration_ms"`
	ServerStartedAt int64    `json:"server_started_at"`
}

// AnswerReceived tells everyone that a participant has answered, without
// leaking whether the answer was correct.
type AnswerReceived struct {
	Type          string    `json:"type"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

// ParticipantPoints is one row of a round or game result.
type ParticipantPoints struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Delta         int       `json:"delta"`
	Total         int       `json:"total"`
}

// RoundEnded reveals the correct options and the points awarded this round.
type RoundEnded struct {
	Type           string              `json:"type"`
	CorrectOptions []string            `json:"correct_options"`
	PerParticipant []ParticipantPoints `json:"per_participant"`
}

// FinalStanding is one row of the game-over scoreboard.
type FinalStanding struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
	Score         int       `json:"score"`
}

// GameEnded carries the final scoreboard, best score first.
type GameEnded struct {
	Type  string          `json:"type"`
	Final []FinalStanding `json:"final"`
}

// ParticipantJoined announces a new participant.
type ParticipantJoined struct {
	Type          string    `json:"type"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
}

// ParticipantLeft announces a participant's removal (leave or host kick).
type ParticipantLeft struct {
	Type          string    `json:"type"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

// LobbyClosed is the last frame a connection receives before the server
// severs it.
type LobbyClosed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ErrorFrame delivers a typed command failure to its originator only.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Pong answers an application-level Heartbeat.
type Pong struct {
	Type string `json:"type"`
}

// NewErrorFrame converts an error into its wire representation.
func NewErrorFrame(err error) ErrorFrame {
	if qe, ok := err.(*Error); ok {
		return ErrorFrame{Type: TypeError, Code: qe.Code, Message: qe.Message}
	}
	return ErrorFrame{Type: TypeError, Code: CodeInternal, Message: "internal error"}
}
