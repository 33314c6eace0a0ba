package domain

import (
	"time"

	"github.com/google/uuid"
)

// PeerID is an opaque process-local handle minted when a receiver is
// accepted. It is never serialized onto the wire.
type PeerID string

// NewPeerID mints a fresh peer handle.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// PeerInfo is a read-only snapshot of one connected receiver.
type PeerInfo struct {
	ID           PeerID
	RemoteAddr   string
	ConnectedAt  time.Time
	SendErrors   int
	BacklogDrops int
}
