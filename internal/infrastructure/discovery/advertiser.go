// Package discovery advertises and browses the mirroring service over
// mDNS.
package discovery

import (
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// Advertiser publishes the service with zeroconf. Re-advertising (for
// a restart or an instance rename) replaces the prior registration.
type Advertiser struct {
	service string
	domain  string
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser for the given service type and
// domain (e.g. "_macmirror._tcp", "local.").
func NewAdvertiser(service, domain string, logger *zap.SugaredLogger) *Advertiser {
	return &Advertiser{service: service, domain: domain, logger: logger}
}

// Advertise implements ports.Advertiser.
func (a *Advertiser) Advertise(instance string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	srv, err := zeroconf.Register(instance, a.service, a.domain, port, []string{"txtvers=1"}, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = srv
	a.logger.Infow("advertising service",
		"instance", instance,
		"service", a.service,
		"port", port,
	)
	return nil
}

// Shutdown implements ports.Advertiser.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
