package services

import (
	"sync"
	"time"

	"mirrorcast/internal/core/domain"

	"go.uber.org/zap"
)

// Controller thresholds.
const (
	// LatencyThreshold is the RTT above which the link is considered
	// loaded; rebound requires dropping well below it.
	LatencyThreshold = 40 * time.Millisecond

	// degradeLatency is the RTT floor for the degrade rule.
	degradeLatency = 60 * time.Millisecond

	// degradeDropLimit is how many dropped frames per evaluation period
	// indicate sustained pressure.
	degradeDropLimit = 5

	// qualityEpsilon absorbs floating-point drift from repeated 0.05
	// steps so quality stops exactly at min_quality + 0.10.
	qualityEpsilon = 1e-9
)

// Inputs are the measured signals one controller evaluation consumes.
type Inputs struct {
	AvgFrameTime  time.Duration
	DroppedFrames int
	RTT           time.Duration
	Thermal       domain.ThermalState
	MemWarnings   int
}

// Action describes what an evaluation decided, for logging and tests.
type Action string

const (
	ActionNone    Action = "none"
	ActionDegrade Action = "degrade"
	ActionRebound Action = "rebound"
)

// Controller is the closed-loop regulator over frame rate, image
// quality and audio quality. It is a pure decision core: Evaluate
// mutates the given config and reports what it did; the owner drives
// it on its cadence and holds the config lock.
//
// At most one rule fires per evaluation. Degradation steps down one
// knob at a time; a rebound may nudge all three knobs toward the user
// setpoints at once.
type Controller struct {
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

// NewController creates a controller logging decisions through logger.
func NewController(logger *zap.SugaredLogger) *Controller {
	return &Controller{logger: logger}
}

// Evaluate applies at most one rule to cfg and returns the action taken.
func (c *Controller) Evaluate(cfg *domain.StreamConfig, in Inputs) Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shouldDegrade(cfg, in) {
		c.degrade(cfg, in)
		return ActionDegrade
	}
	if c.shouldRebound(cfg, in) {
		c.rebound(cfg, in)
		return ActionRebound
	}
	return ActionNone
}

func (c *Controller) shouldDegrade(cfg *domain.StreamConfig, in Inputs) bool {
	overloaded := in.AvgFrameTime > cfg.MaxFrameTime*3/2 || in.DroppedFrames > degradeDropLimit
	return overloaded && in.RTT > degradeLatency
}

func (c *Controller) degrade(cfg *domain.StreamConfig, in Inputs) {
	switch {
	case cfg.ImageQuality > domain.MinQuality+0.10+qualityEpsilon:
		cfg.ImageQuality = domain.ClampQuality(cfg.ImageQuality - 0.05)
		c.logger.Infow("degrading image quality",
			"quality", cfg.ImageQuality,
			"avg_frame_time", in.AvgFrameTime,
			"dropped", in.DroppedFrames,
			"rtt", in.RTT,
		)
	case cfg.FPSTarget > fpsFloor(cfg.UserFPS):
		cfg.FPSTarget--
		c.logger.Infow("degrading frame rate",
			"fps", cfg.FPSTarget,
			"avg_frame_time", in.AvgFrameTime,
			"dropped", in.DroppedFrames,
		)
	case cfg.AudioQuality > 0.40:
		cfg.AudioQuality = domain.ClampAudioQuality(cfg.AudioQuality - 0.10)
		c.logger.Infow("degrading audio quality", "audio_quality", cfg.AudioQuality)
	}
}

func (c *Controller) shouldRebound(cfg *domain.StreamConfig, in Inputs) bool {
	if in.DroppedFrames != 0 {
		return false
	}
	if in.AvgFrameTime == 0 {
		return false
	}
	slack := in.AvgFrameTime < cfg.TickPeriod()/2
	quiet := in.RTT < LatencyThreshold*6/10
	return slack && quiet
}

func (c *Controller) rebound(cfg *domain.StreamConfig, in Inputs) {
	changed := false
	if cfg.FPSTarget < cfg.UserFPS {
		cfg.FPSTarget++
		changed = true
	}
	if cfg.ImageQuality < cfg.UserQuality {
		cfg.ImageQuality = cfg.ImageQuality + 0.03
		if cfg.ImageQuality > cfg.UserQuality {
			cfg.ImageQuality = cfg.UserQuality
		}
		changed = true
	}
	if cfg.AudioQuality < 0.80 {
		cfg.AudioQuality = domain.ClampAudioQuality(cfg.AudioQuality + 0.05)
		changed = true
	}
	if changed {
		c.logger.Debugw("rebounding toward setpoints",
			"fps", cfg.FPSTarget,
			"quality", cfg.ImageQuality,
			"audio_quality", cfg.AudioQuality,
		)
	}
}

// fpsFloor is the lowest fps the degrade rule will reach for a given
// user setpoint.
func fpsFloor(userFPS int) int {
	floor := userFPS - 8
	if floor < domain.MinFPS {
		floor = domain.MinFPS
	}
	return floor
}
