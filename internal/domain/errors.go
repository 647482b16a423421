package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Specific errors wrap one of these so callers can classify with errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrUnavailable    = errors.New("unavailable")
)

var (
	// ErrQuizNotFound is returned when a quiz id does not exist.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrQuestNotFound is returned when a quest id does not exist.
	ErrQuestNotFound = fmt.Errorf("quest %w", ErrNotFound)
	// ErrNoQuestionsAvailable means the inventory has nothing matching the filter.
	ErrNoQuestionsAvailable = fmt.Errorf("no questions available: %w", ErrNotFound)
	// ErrNotOwner is returned when a user acts on another user's entity.
	ErrNotOwner = fmt.Errorf("entity belongs to another user: %w", ErrForbidden)
	// ErrAlreadySubmitted is returned for a second submission of the same quiz.
	ErrAlreadySubmitted = fmt.Errorf("quiz already submitted: %w", ErrConflict)
	// ErrUnknownMatchMode is returned when a question carries an unsupported match mode.
	ErrUnknownMatchMode = fmt.Errorf("unknown match mode: %w", ErrInvalidRequest)
	// ErrJudgeUnavailable is returned by inference providers that cannot answer.
	ErrJudgeUnavailable = fmt.Errorf("inference provider: %w", ErrUnavailable)
)

// Kind is the coarse classification of an engine error.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindConflict       Kind = "conflict"
	KindUnavailable    Kind = "unavailable"
	KindInternal       Kind = "internal"
)

// KindOf classifies err. Unrecognized errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// InvalidRequest builds an ErrInvalidRequest with a reason.
func InvalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
