package server

import "errors"

// Routing-level failures. Codec and replay failures live in the envelope
// package; these cover the federation side.
var (
	ErrUnknownSender          = errors.New("unknown sender")
	ErrUnreachableDestination = errors.New("unreachable destination server")
	ErrConnectionLost         = errors.New("connection lost")
)
