package domain

import "errors"

// Code is a stable machine-readable error identifier that clients branch on.
type Code string

const (
	CodeRoomNotFound        Code = "RoomNotFound"
	CodeRoomAlreadyStarted  Code = "RoomAlreadyStarted"
	CodeDuplicateName       Code = "DuplicateName"
	CodeNotHost             Code = "NotHost"
	CodeInvalidStatus       Code = "InvalidStatus"
	CodeGameNotInProgress   Code = "GameNotInProgress"
	CodeInvalidQuestion     Code = "InvalidQuestion"
	CodeDuplicateAnswer     Code = "DuplicateAnswer"
	CodeInvalidTimestamp    Code = "InvalidTimestamp"
	CodeTimeExpired         Code = "TimeExpired"
	CodeHostRequired        Code = "HostRequired"
	CodeInvalidQuiz         Code = "InvalidQuiz"
	CodeInvalidName         Code = "InvalidName"
	CodeInvalidOption       Code = "InvalidOption"
	CodeParticipantNotFound Code = "ParticipantNotFound"
	CodeCodeSpaceExhausted  Code = "CodeSpaceExhausted"
	CodeRateLimited         Code = "RateLimited"
	CodeBadRequest          Code = "BadRequest"
	CodeUnavailable         Code = "Unavailable"
)

// Error is a domain failure with a stable code and a user-facing message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrRoomNotFound is returned when no room matches the given id or code.
	ErrRoomNotFound = &Error{Code: CodeRoomNotFound, Message: "room not found"}
	// ErrRoomAlreadyStarted is returned when joining or starting a room that left the lobby.
	ErrRoomAlreadyStarted = &Error{Code: CodeRoomAlreadyStarted, Message: "room already started"}
	// ErrDuplicateName indicates the display name is already taken in the room.
	ErrDuplicateName = &Error{Code: CodeDuplicateName, Message: "name already used in this room"}
	// ErrNotHost is returned when a host-only action is attempted by someone else.
	ErrNotHost = &Error{Code: CodeNotHost, Message: "only the host can do this"}
	// ErrInvalidStatus indicates the action is not valid in the room's current status.
	ErrInvalidStatus = &Error{Code: CodeInvalidStatus, Message: "action not allowed in current room status"}
	// ErrGameNotInProgress is returned when answering outside of a live question.
	ErrGameNotInProgress = &Error{Code: CodeGameNotInProgress, Message: "game is not in progress"}
	// ErrInvalidQuestion indicates the question index does not exist.
	ErrInvalidQuestion = &Error{Code: CodeInvalidQuestion, Message: "invalid question"}
	// ErrDuplicateAnswer is returned on a second submission for the same question.
	ErrDuplicateAnswer = &Error{Code: CodeDuplicateAnswer, Message: "you already answered this question"}
	// ErrInvalidTimestamp indicates the room is playing without a question start time.
	ErrInvalidTimestamp = &Error{Code: CodeInvalidTimestamp, Message: "question has no start timestamp"}
	// ErrTimeExpired is returned for answers arriving after the question time budget.
	ErrTimeExpired = &Error{Code: CodeTimeExpired, Message: "time is up"}
	ErrHostRequired = &Error{Code: CodeHostRequired, Message: "host id is required to create a room"}
	ErrInvalidQuiz  = &Error{Code: CodeInvalidQuiz, Message: "a room needs at least one question with four options and a valid correct option"}
	ErrInvalidName  = &Error{Code: CodeInvalidName, Message: "name is required"}
	// ErrInvalidOption indicates the option index is outside the question's options.
	ErrInvalidOption = &Error{Code: CodeInvalidOption, Message: "invalid option"}
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = &Error{Code: CodeParticipantNotFound, Message: "participant not found in room"}
	// ErrCodeSpaceExhausted is returned when no free join code could be generated.
	ErrCodeSpaceExhausted = &Error{Code: CodeCodeSpaceExhausted, Message: "could not allocate a room code"}
	// ErrRateLimited is sent to clients that exceed their inbound message budget.
	ErrRateLimited = &Error{Code: CodeRateLimited, Message: "too many requests, slow down"}
)

// BadRequest reports a malformed inbound message.
func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message}
}

// CodeOf extracts the domain code of err, or CodeUnavailable for anything else.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnavailable
}

// IsDomain reports whether err carries a domain code.
func IsDomain(err error) bool {
	var domainErr *Error
	return errors.As(err, &domainErr)
}
