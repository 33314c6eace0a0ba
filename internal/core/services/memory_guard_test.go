package services

import (
	"testing"

	"mirrorcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMemoryGuardBelowLimitIsQuiet(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	g := NewMemoryGuard(400, 3, zap.NewNop().Sugar())

	assert.False(t, g.Step(&cfg, 200))
	assert.Equal(t, 0, g.Warnings())
	assert.Equal(t, domain.DefaultStreamConfig(domain.ModeBalanced), cfg)
}

func TestMemoryGuardWarnsBeforeDegrading(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	g := NewMemoryGuard(400, 3, zap.NewNop().Sugar())

	assert.False(t, g.Step(&cfg, 500))
	assert.False(t, g.Step(&cfg, 500))
	assert.Equal(t, 2, g.Warnings())
	assert.InDelta(t, 0.50, cfg.ImageQuality, 1e-9)

	// Third warning crosses the threshold and lowers quality.
	assert.True(t, g.Step(&cfg, 500))
	assert.InDelta(t, 0.45, cfg.ImageQuality, 1e-9)
}

func TestMemoryGuardLadder(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	g := NewMemoryGuard(400, 1, zap.NewNop().Sugar())

	// Quality steps down to its floor before fps or audio move.
	for i := 0; cfg.ImageQuality > domain.MinQuality && i < 20; i++ {
		g.Step(&cfg, 500)
		assert.Equal(t, 30, cfg.FPSTarget)
		assert.InDelta(t, 0.8, cfg.AudioQuality, 1e-9)
	}
	assert.InDelta(t, domain.MinQuality, cfg.ImageQuality, 1e-9)

	// Then fps, in steps of 2 down to 15, audio still untouched.
	g.Step(&cfg, 500)
	assert.Equal(t, 28, cfg.FPSTarget)
	for i := 0; cfg.FPSTarget > 15 && i < 20; i++ {
		g.Step(&cfg, 500)
		assert.InDelta(t, 0.8, cfg.AudioQuality, 1e-9)
	}
	assert.Equal(t, 15, cfg.FPSTarget)

	// Then audio quality down to 0.40, after which the ladder is spent.
	for i := 0; i < 20; i++ {
		g.Step(&cfg, 500)
	}
	assert.InDelta(t, 0.40, cfg.AudioQuality, 1e-9)
	assert.False(t, g.Step(&cfg, 500))
}

func TestMemoryGuardRecoversWarningCount(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	g := NewMemoryGuard(400, 3, zap.NewNop().Sugar())

	g.Step(&cfg, 500)
	g.Step(&cfg, 500)
	assert.Equal(t, 2, g.Warnings())

	g.Step(&cfg, 100)
	g.Step(&cfg, 100)
	g.Step(&cfg, 100)
	assert.Equal(t, 0, g.Warnings())

	// Recovery never rebounds quality by itself.
	assert.InDelta(t, 0.50, cfg.ImageQuality, 1e-9)
}
