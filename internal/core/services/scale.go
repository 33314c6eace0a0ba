package services

import (
	"time"

	"mirrorcast/internal/core/domain"
)

// OutputScale computes the per-tick capture scale from the measured
// frame-processing performance and the estimated round-trip time. The
// two signals are combined into a single ratio and mapped onto coarse
// scale steps; coarse steps keep the encoded size stable between
// controller evaluations.
func OutputScale(cfg *domain.StreamConfig, avgFrameTime, rtt time.Duration) float64 {
	if avgFrameTime <= 0 {
		return 0.50
	}

	perfRatio := float64(cfg.TickPeriod()) / float64(avgFrameTime)

	latencyFactor := 1.0
	if rtt > 0 && rtt > LatencyThreshold {
		latencyFactor = float64(LatencyThreshold) / float64(rtt)
	}

	combined := (perfRatio + latencyFactor) / 2
	switch {
	case combined < 0.6:
		return 0.30
	case combined < 0.8:
		return 0.40
	case combined > 1.3:
		return 0.70
	default:
		return 0.50
	}
}
