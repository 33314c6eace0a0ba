package domain

import "time"

// UserMode is the streaming preset selected by the user. Its setpoints
// are the values the adaptive controller rebounds toward.
type UserMode string

const (
	ModePerformance UserMode = "Performance"
	ModeBalanced    UserMode = "Balanced"
	ModeFidelity    UserMode = "Fidelity"
)

// ModePreset holds the setpoints for a user mode.
type ModePreset struct {
	FPS          int
	Quality      float64
	AudioQuality float64
	MaxFrameTime time.Duration
}

// PresetFor returns the setpoints for mode; unknown modes get Balanced.
func PresetFor(mode UserMode) ModePreset {
	switch mode {
	case ModePerformance:
		return ModePreset{FPS: 45, Quality: 0.30, AudioQuality: 0.6, MaxFrameTime: time.Second / 30}
	case ModeFidelity:
		return ModePreset{FPS: 20, Quality: 0.70, AudioQuality: 1.0, MaxFrameTime: time.Second / 15}
	default:
		return ModePreset{FPS: 30, Quality: 0.50, AudioQuality: 0.8, MaxFrameTime: time.Second / 25}
	}
}

// ParseUserMode maps a wire or CLI string to a UserMode. The second
// return is false for unrecognized values.
func ParseUserMode(s string) (UserMode, bool) {
	switch s {
	case "Performance", "performance":
		return ModePerformance, true
	case "Balanced", "balanced":
		return ModeBalanced, true
	case "Fidelity", "fidelity":
		return ModeFidelity, true
	default:
		return "", false
	}
}

// Clamp bounds for the mutable stream configuration.
const (
	MinFPS = 10
	MaxFPS = 60

	MinQuality = 0.20
	MaxQuality = 0.80

	MinOutputScale = 0.30
	MaxOutputScale = 1.00

	MinAudioQuality = 0.10
	MaxAudioQuality = 1.00
)

// StreamConfig is the mutable streaming configuration shared between
// the capture tick, the audio flush, the adaptive controller and the
// inbound settings path. The owner guards it with a single mutex.
type StreamConfig struct {
	FPSTarget    int
	ImageQuality float64
	OutputScale  float64
	AudioQuality float64
	AudioEnabled bool
	Target       CaptureTarget

	// Setpoints the controller rebounds toward.
	Mode         UserMode
	UserFPS      int
	UserQuality  float64
	MaxFrameTime time.Duration
}

// DefaultStreamConfig returns the configuration for a mode preset with
// audio enabled and a full-display target.
func DefaultStreamConfig(mode UserMode) StreamConfig {
	p := PresetFor(mode)
	return StreamConfig{
		FPSTarget:    p.FPS,
		ImageQuality: p.Quality,
		OutputScale:  0.50,
		AudioQuality: p.AudioQuality,
		AudioEnabled: true,
		Target:       CaptureTarget{Kind: CaptureFullDisplay},
		Mode:         mode,
		UserFPS:      p.FPS,
		UserQuality:  p.Quality,
		MaxFrameTime: p.MaxFrameTime,
	}
}

// ApplyMode overwrites the tunables with the preset for mode.
func (c *StreamConfig) ApplyMode(mode UserMode) {
	p := PresetFor(mode)
	c.Mode = mode
	c.FPSTarget = p.FPS
	c.ImageQuality = p.Quality
	c.AudioQuality = p.AudioQuality
	c.MaxFrameTime = p.MaxFrameTime
	c.UserFPS = p.FPS
	c.UserQuality = p.Quality
}

// TickPeriod derives the capture tick period from the fps target.
func (c *StreamConfig) TickPeriod() time.Duration {
	fps := c.FPSTarget
	if fps <= 0 {
		fps = MinFPS
	}
	return time.Second / time.Duration(fps)
}

// ClampFPS bounds an fps value to the stream's valid range.
func ClampFPS(fps int) int {
	return clampInt(fps, MinFPS, MaxFPS)
}

// ClampQuality bounds an image quality value.
func ClampQuality(q float64) float64 {
	return clampFloat(q, MinQuality, MaxQuality)
}

// ClampOutputScale bounds an output scale value.
func ClampOutputScale(s float64) float64 {
	return clampFloat(s, MinOutputScale, MaxOutputScale)
}

// ClampAudioQuality bounds an audio quality value.
func ClampAudioQuality(q float64) float64 {
	return clampFloat(q, MinAudioQuality, MaxAudioQuality)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
