package ports

import (
	"context"
	"time"
)

// Advertiser publishes the mirroring service on the local network.
// Advertise replaces any previous registration, so the instance name
// can change (e.g. when entering background mode) without a separate
// teardown call.
type Advertiser interface {
	Advertise(instance string, port int) error
	Shutdown()
}

// Candidate is a discovered mirroring server.
type Candidate struct {
	Instance string
	Host     string
	Port     int
}

// Browser searches the local network for mirroring servers.
type Browser interface {
	Browse(ctx context.Context, timeout time.Duration) ([]Candidate, error)
}
