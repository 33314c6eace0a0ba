package services

import (
	"context"

	"mirrorcast/internal/core/domain"
	"mirrorcast/internal/core/ports"
	"mirrorcast/internal/protocol"

	"go.uber.org/zap"
)

// Settings preference bounds. The fps bound is narrower than the stream
// clamp (45 vs 60); the quality bound matches the stream clamp.
const (
	minPreferredFPS = 10
	maxPreferredFPS = 45

	minPreferredQuality = 20 // percent
	maxPreferredQuality = 80
)

// SettingsApplier folds inbound settings packets into the stream
// configuration. Application is idempotent: repeating a packet changes
// nothing beyond bookkeeping.
type SettingsApplier struct {
	enum   ports.ContentEnumerator
	logger *zap.SugaredLogger
}

// NewSettingsApplier creates an applier that validates window/display
// selections against enum.
func NewSettingsApplier(enum ports.ContentEnumerator, logger *zap.SugaredLogger) *SettingsApplier {
	return &SettingsApplier{enum: enum, logger: logger}
}

// Apply mutates cfg according to u and reports whether anything
// changed. Unrecognized field values are logged and ignored; the rest
// of the packet still applies. The caller holds the config lock.
func (a *SettingsApplier) Apply(ctx context.Context, cfg *domain.StreamConfig, u protocol.SettingsUpdate) bool {
	before := *cfg

	if u.StreamingMode != nil {
		if mode, ok := domain.ParseUserMode(*u.StreamingMode); ok {
			cfg.ApplyMode(mode)
		} else {
			a.logger.Warnw("ignoring unknown streaming mode", "mode", *u.StreamingMode)
		}
	}

	if u.PreferredFPS != nil {
		fps := clampInt(*u.PreferredFPS, minPreferredFPS, maxPreferredFPS)
		cfg.FPSTarget = fps
		cfg.UserFPS = fps
	}

	if u.PreferredQuality != nil {
		pct := clampInt(*u.PreferredQuality, minPreferredQuality, maxPreferredQuality)
		q := float64(pct) / 100
		cfg.ImageQuality = q
		cfg.UserQuality = q
	}

	if u.CaptureSource != nil {
		switch *u.CaptureSource {
		case "Full Display":
			cfg.Target.Kind = domain.CaptureFullDisplay
		case "Single Window":
			cfg.Target.Kind = domain.CaptureSingleWindow
		default:
			a.logger.Warnw("ignoring unknown capture source", "source", *u.CaptureSource)
		}
	}

	if u.SelectedWindowID != nil && *u.SelectedWindowID != 0 {
		if a.windowKnown(ctx, *u.SelectedWindowID) {
			cfg.Target.WindowID = *u.SelectedWindowID
			cfg.Target.Kind = domain.CaptureSingleWindow
		} else {
			a.logger.Warnw("ignoring unknown window id", "window_id", *u.SelectedWindowID)
		}
	}

	if u.SelectedDisplayID != nil && *u.SelectedDisplayID != 0 {
		if a.displayKnown(ctx, *u.SelectedDisplayID) {
			cfg.Target.DisplayID = *u.SelectedDisplayID
			cfg.Target.Kind = domain.CaptureFullDisplay
		} else {
			a.logger.Warnw("ignoring unknown display id", "display_id", *u.SelectedDisplayID)
		}
	}

	if u.AudioEnabled != nil {
		cfg.AudioEnabled = *u.AudioEnabled
	}

	if u.AudioQuality != nil {
		cfg.AudioQuality = domain.ClampAudioQuality(*u.AudioQuality)
	}

	return *cfg != before
}

func (a *SettingsApplier) windowKnown(ctx context.Context, id uint32) bool {
	windows, err := a.enum.ListWindows(ctx)
	if err != nil {
		a.logger.Warnw("window enumeration failed", "error", err)
		return false
	}
	for _, w := range windows {
		if w.ID == id {
			return true
		}
	}
	return false
}

func (a *SettingsApplier) displayKnown(ctx context.Context, id uint32) bool {
	displays, err := a.enum.ListDisplays(ctx)
	if err != nil {
		a.logger.Warnw("display enumeration failed", "error", err)
		return false
	}
	for _, d := range displays {
		if d.ID == id {
			return true
		}
	}
	return false
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
