package errors

import "errors"

// Session and turn-flow errors.
var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionFinished         = errors.New("session already finished")
	ErrSessionNotWaiting       = errors.New("session no longer waiting")
	ErrPlayerNotInSession      = errors.New("player not in session")
	ErrWrongPlayer             = errors.New("action from non-active player")
	ErrInvalidState            = errors.New("action does not match current flow state")
	ErrInvalidSelection        = errors.New("target not among legal candidates")
	ErrVersionConflict         = errors.New("round version conflict")
	ErrConfirmationNotRequired = errors.New("confirmation not required")
)

// Matchmaking errors.
var (
	ErrAlreadyQueued   = errors.New("player already queued")
	ErrNotQueued       = errors.New("player not queued")
	ErrQueueProcessing = errors.New("queue request already processing")
)

// Auth errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrUserNotFound = errors.New("user not found")
)
