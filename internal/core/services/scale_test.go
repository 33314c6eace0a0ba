package services

import (
	"testing"
	"time"

	"mirrorcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestOutputScaleNoSamplesUsesDefault(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	assert.Equal(t, 0.50, OutputScale(&cfg, 0, 0))
}

func TestOutputScaleSteps(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	tick := cfg.TickPeriod() // ~33ms at 30 fps

	tests := []struct {
		name string
		avg  time.Duration
		rtt  time.Duration
		want float64
	}{
		{"fast pipeline, idle link", tick / 2, 10 * time.Millisecond, 0.70},
		{"struggling pipeline, slow link", 4 * tick, 200 * time.Millisecond, 0.30},
		{"borderline", 2 * tick, 50 * time.Millisecond, 0.40},
		{"steady", tick, 40 * time.Millisecond, 0.50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputScale(&cfg, tt.avg, tt.rtt))
		})
	}
}

func TestOutputScaleIgnoresZeroRTT(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	tick := cfg.TickPeriod()

	// No RTT samples yet: latency factor is neutral.
	assert.Equal(t, 0.70, OutputScale(&cfg, tick/2, 0))
}
