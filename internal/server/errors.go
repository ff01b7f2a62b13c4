package server

import (
	"errors"
	"fmt"
	"strings"
)

// Errors surfaced to clients. Returned errors wrap one of these and read as
// "CODE: human message".
var (
	ErrValidation           = errors.New("VALIDATION_ERROR")
	ErrNotFound             = errors.New("NOT_FOUND")
	ErrRoomFull             = errors.New("ROOM_FULL")
	ErrDuplicateParticipant = errors.New("DUPLICATE_PARTICIPANT")
	ErrRateLimited          = errors.New("RATE_LIMIT_EXCEEDED")
)

var clientErrors = []error{
	ErrValidation,
	ErrNotFound,
	ErrRoomFull,
	ErrDuplicateParticipant,
	ErrRateLimited,
}

const (
	codeInvalidPayload     = "INVALID_PAYLOAD"
	codeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	codeInternal           = "INTERNAL_ERROR"
)

func newError(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

// toErrorMessage splits a wrapped client error into its code and human message.
// Anything not in the taxonomy is reported as an internal error.
func toErrorMessage(err error) ErrorMessage {
	for _, kind := range clientErrors {
		if errors.Is(err, kind) {
			msg := strings.TrimPrefix(err.Error(), kind.Error()+": ")
			return ErrorMessage{Message: msg, Code: kind.Error()}
		}
	}
	return ErrorMessage{Message: "Internal server error", Code: codeInternal}
}
