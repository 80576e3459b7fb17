package chat

import "errors"

var (
	// ErrSessionNotFound is returned when a session lookup misses.
	ErrSessionNotFound = errors.New("chat session not found")

	// ErrInvalidTransition is returned on an illegal state-machine move,
	// such as closing an already-closed session.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrAlreadyClaimed is returned to every claimer that lost the race
	// for a waiting session.
	ErrAlreadyClaimed = errors.New("session already claimed")

	// ErrForbidden is returned when an agent acts on a session assigned
	// to someone else.
	ErrForbidden = errors.New("session is not assigned to this agent")

	// ErrInvalidParticipant is returned when a session is created with
	// both or neither of the user and guest identities.
	ErrInvalidParticipant = errors.New("participant must be exactly one of user or guest")
)
