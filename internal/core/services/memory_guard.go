package services

import (
	"mirrorcast/internal/core/domain"

	"go.uber.org/zap"
)

// MemoryGuard is the independent pressure track that trades stream
// quality for memory headroom. It runs on its own cadence, accumulates
// a warning count while usage stays above the limit, and steps one
// knob down per evaluation once warnings exceed the threshold. It never
// rebounds quality; the main controller does that once pressure clears.
type MemoryGuard struct {
	logger *zap.SugaredLogger

	limitMiB      float64
	warnThreshold int
	warnings      int
}

// NewMemoryGuard creates a guard that warns above limitMiB and starts
// degrading after warnThreshold warnings.
func NewMemoryGuard(limitMiB float64, warnThreshold int, logger *zap.SugaredLogger) *MemoryGuard {
	if warnThreshold <= 0 {
		warnThreshold = 3
	}
	return &MemoryGuard{logger: logger, limitMiB: limitMiB, warnThreshold: warnThreshold}
}

// Warnings returns the accumulated warning count.
func (g *MemoryGuard) Warnings() int { return g.warnings }

// SetLimit adjusts the memory limit (background mode uses a lower one).
func (g *MemoryGuard) SetLimit(limitMiB float64) { g.limitMiB = limitMiB }

// Step evaluates one memory reading against cfg and returns whether it
// changed the configuration. The caller holds the config lock.
func (g *MemoryGuard) Step(cfg *domain.StreamConfig, usageMiB float64) bool {
	if usageMiB <= g.limitMiB {
		if g.warnings > 0 {
			g.warnings--
		}
		return false
	}

	g.warnings++
	g.logger.Warnw("memory pressure",
		"usage_mib", usageMiB,
		"limit_mib", g.limitMiB,
		"warnings", g.warnings,
	)
	if g.warnings < g.warnThreshold {
		return false
	}

	switch {
	case cfg.ImageQuality > domain.MinQuality:
		cfg.ImageQuality = domain.ClampQuality(cfg.ImageQuality - 0.05)
		g.logger.Infow("memory guard lowered image quality", "quality", cfg.ImageQuality)
	case cfg.FPSTarget > 15:
		cfg.FPSTarget -= 2
		if cfg.FPSTarget < 15 {
			cfg.FPSTarget = 15
		}
		g.logger.Infow("memory guard lowered frame rate", "fps", cfg.FPSTarget)
	case cfg.AudioQuality > 0.40:
		cfg.AudioQuality -= 0.10
		if cfg.AudioQuality < 0.40 {
			cfg.AudioQuality = 0.40
		}
		g.logger.Infow("memory guard lowered audio quality", "audio_quality", cfg.AudioQuality)
	default:
		return false
	}
	return true
}
