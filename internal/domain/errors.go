package domain

import "errors"

var (
	// ErrNotConnected is returned when an operation needs a live channel.
	ErrNotConnected = errors.New("not connected to server")
	// ErrPersist is returned when a remote storage call fails.
	ErrPersist = errors.New("remote storage failed")
	// ErrMalformedPayload is returned for an unparseable inbound frame.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrFetch is returned when the question service is unreachable or errored.
	ErrFetch = errors.New("question fetch failed")
	// ErrValidation is returned for empty or invalid caller input.
	ErrValidation = errors.New("invalid input")

	ErrAwaitingReply     = errors.New("waiting for reply")
	ErrSessionReset      = errors.New("session was refreshed")
	ErrTimeUp            = errors.New("time is up for this question")
	ErrAlreadyAnswered   = errors.New("question already answered")
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrAbandonDeclined   = errors.New("abandon not confirmed")
	ErrUnauthenticated   = errors.New("not authenticated")
	ErrNotFound          = errors.New("not found")
)
