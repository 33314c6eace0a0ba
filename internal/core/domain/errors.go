package domain

import "errors"

var (
	ErrCaptureUnavailable = errors.New("capture target not resolvable")
	ErrCaptureTimeout     = errors.New("capture deadline exceeded")
	ErrEncodeFailed       = errors.New("image encode failed")
	ErrBacklogOverflow    = errors.New("peer outbound backlog overflow")
	ErrMalformedPacket    = errors.New("malformed packet")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrAudioInitFailed    = errors.New("audio capture initialization failed")
	ErrServerStopped      = errors.New("server stopped")
)
