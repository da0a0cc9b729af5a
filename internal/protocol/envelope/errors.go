package envelope

import "errors"

// Verification and validation failures. Structural checks run before
// cryptographic ones.
var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrBadType            = errors.New("envelope type is not signed_data")
	ErrMissingField       = errors.New("missing required field")
	ErrReplayDetected     = errors.New("replay detected: counter not greater than last")
	ErrBadSignature       = errors.New("bad signature")
)
