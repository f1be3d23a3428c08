package session

import (
	"errors"

	"animstream/internal/app/ports"
	"animstream/internal/domain/animation"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrOperationNotFound   = errors.New("operation not found")
	ErrMethodNotAllowed    = errors.New("method not allowed")
	ErrEntityNotFound      = errors.New("character not found")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrMetadataKeyNotFound = errors.New("metadata key not found")
	ErrUpgradeRequired     = errors.New("expected websocket upgrade")
	ErrUnknownClient       = errors.New("unknown client")
	ErrUnsupportedMessage  = errors.New("unsupported message type")
	ErrArchiveRead         = errors.New("archive read failed")
	ErrBootstrap           = errors.New("session bootstrap failed")

	errActorStopped = errors.New("session actor stopped")
)

var classified = []error{
	ErrInvalidRequest,
	ErrOperationNotFound,
	ErrMethodNotAllowed,
	ErrEntityNotFound,
	ErrInvalidStatus,
	ErrMetadataKeyNotFound,
	ErrUpgradeRequired,
	ErrUnknownClient,
	ErrUnsupportedMessage,
	ErrArchiveRead,
	ErrBootstrap,
	ports.ErrConflict,
	animation.ErrInvalidCommand,
	animation.ErrInvalidEntity,
}

// IsClassified reports whether err is an expected rejection rather than an
// unexpected failure of request handling.
func IsClassified(err error) bool {
	for _, c := range classified {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, animation.ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrEntityNotFound):
		return "entity_not_found"
	case errors.Is(err, ErrUnknownClient):
		return "unknown_client"
	case errors.Is(err, ErrUnsupportedMessage):
		return "unsupported_message"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}
