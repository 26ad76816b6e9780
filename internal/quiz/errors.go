// internal/quiz/errors.go
package quiz

import "fmt"

// Code is a stable machine-readable error code surfaced to clients.
type Code string

const (
	CodeUnauthorized       Code = "Unauthorized"
	CodeTokenExpired       Code = "TokenExpired"
	CodeTokenUnknown       Code = "TokenUnknown"
	CodeLobbyNotFound      Code = "LobbyNotFound"
	CodeParticipantUnknown Code = "ParticipantUnknown"
	CodeQuestionNotFound   Code = "QuestionNotFound"
	CodeInvalidPhase       Code = "InvalidPhase"
	CodeNoMoreQuestions    Code = "NoMoreQuestions"
	CodeLobbyNotJoinable   Code = "LobbyNotJoinable"
	CodeLobbyClosed        Code = "LobbyClosed"
	CodeInvalidName        Code = "InvalidName"
	CodeNameTaken          Code = "NameTaken"
	CodeInvalidJoinCode    Code = "InvalidJoinCode"
	CodeUnknownAlternative Code = "UnknownAlternative"
	CodeAlreadyAnswered    Code = "AlreadyAnswered"
	CodeEmptyCatalog       Code = "EmptyCatalog"
	CodePayloadTooLarge    Code = "PayloadTooLarge"
	CodeRateLimited        Code = "RateLimited"
	CodeInternal           Code = "Internal"
)

// Error is a typed failure delivered only to the command's originator.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds a typed error.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the wire code from an error, defaulting to Internal.
func CodeOf(err error) Code {
	if qe, ok := err.(*Error); ok {
		return qe.Code
	}
	return CodeInternal
}
