package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"mirrorcast/internal/core/ports"
)

// Browser discovers mirroring servers on the local network.
type Browser struct {
	service string
	domain  string
	logger  *zap.SugaredLogger
}

// NewBrowser creates a browser for the given service type and domain.
func NewBrowser(service, domain string, logger *zap.SugaredLogger) *Browser {
	return &Browser{service: service, domain: domain, logger: logger}
}

// Browse implements ports.Browser. It collects candidates until the
// timeout elapses or ctx is cancelled.
func (b *Browser) Browse(ctx context.Context, timeout time.Duration) ([]ports.Candidate, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("init mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, b.service, b.domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", b.service, err)
	}

	var found []ports.Candidate
	for entry := range entries {
		host := ""
		if len(entry.AddrIPv4) > 0 {
			host = entry.AddrIPv4[0].String()
		} else if len(entry.AddrIPv6) > 0 {
			host = entry.AddrIPv6[0].String()
		}
		if host == "" {
			continue
		}
		b.logger.Debugw("discovered server",
			"instance", entry.Instance,
			"host", host,
			"port", entry.Port,
		)
		found = append(found, ports.Candidate{
			Instance: entry.Instance,
			Host:     host,
			Port:     entry.Port,
		})
	}
	return found, nil
}
