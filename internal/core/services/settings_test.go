package services

import (
	"context"
	"testing"

	"mirrorcast/internal/core/domain"
	"mirrorcast/internal/protocol"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeEnumerator struct {
	windows  []domain.Window
	displays []domain.Display
}

func (f *fakeEnumerator) ListWindows(ctx context.Context) ([]domain.Window, error) {
	return f.windows, nil
}

func (f *fakeEnumerator) ListDisplays(ctx context.Context) ([]domain.Display, error) {
	return f.displays, nil
}

func testApplier() *SettingsApplier {
	return NewSettingsApplier(&fakeEnumerator{
		windows:  []domain.Window{{ID: 7, Title: "Editor", OwnerName: "editor"}},
		displays: []domain.Display{{ID: 1, Name: "Main", Width: 2560, Height: 1440}},
	}, zap.NewNop().Sugar())
}

func strptr(s string) *string   { return &s }
func intptr(i int) *int         { return &i }
func u32ptr(v uint32) *uint32   { return &v }
func boolptr(b bool) *bool      { return &b }
func f64ptr(f float64) *float64 { return &f }

func TestApplyStreamingMode(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := testApplier()

	changed := a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		StreamingMode: strptr("Performance"),
	})

	assert.True(t, changed)
	assert.Equal(t, domain.ModePerformance, cfg.Mode)
	assert.Equal(t, 45, cfg.FPSTarget)
	assert.InDelta(t, 0.30, cfg.ImageQuality, 1e-9)
}

func TestApplyUnknownModeIgnored(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := testApplier()

	changed := a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		StreamingMode: strptr("Unknown"),
	})

	assert.False(t, changed)
	assert.Equal(t, domain.DefaultStreamConfig(domain.ModeBalanced), cfg)
}

func TestApplyPreferredOverridesClamp(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := testApplier()

	a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		PreferredFPS:     intptr(200),
		PreferredQuality: intptr(5),
	})

	assert.Equal(t, 45, cfg.FPSTarget)
	assert.Equal(t, 45, cfg.UserFPS)
	assert.InDelta(t, 0.20, cfg.ImageQuality, 1e-9)
	assert.InDelta(t, 0.20, cfg.UserQuality, 1e-9)
}

func TestApplyModeThenOverridesInOnePacket(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := testApplier()

	a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		StreamingMode: strptr("Fidelity"),
		PreferredFPS:  intptr(25),
	})

	// Preset applies first, the explicit fps override wins.
	assert.Equal(t, domain.ModeFidelity, cfg.Mode)
	assert.Equal(t, 25, cfg.FPSTarget)
	assert.InDelta(t, 0.70, cfg.ImageQuality, 1e-9)
}

func TestApplyWindowSelection(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := testApplier()

	a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		SelectedWindowID: u32ptr(7),
	})

	assert.Equal(t, domain.CaptureSingleWindow, cfg.Target.Kind)
	assert.Equal(t, uint32(7), cfg.Target.WindowID)
}

func TestApplyUnknownWindowIgnored(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := testApplier()

	changed := a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		SelectedWindowID: u32ptr(99),
	})

	assert.False(t, changed)
	assert.Equal(t, domain.CaptureFullDisplay, cfg.Target.Kind)
}

func TestApplyCaptureSourcePreservesIDs(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	cfg.Target.WindowID = 7
	a := testApplier()

	a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		CaptureSource: strptr("Single Window"),
	})
	assert.Equal(t, domain.CaptureSingleWindow, cfg.Target.Kind)
	assert.Equal(t, uint32(7), cfg.Target.WindowID)

	a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		CaptureSource: strptr("Full Display"),
	})
	assert.Equal(t, domain.CaptureFullDisplay, cfg.Target.Kind)
	assert.Equal(t, uint32(7), cfg.Target.WindowID)
}

func TestApplyAudioSettings(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := testApplier()

	a.Apply(context.Background(), &cfg, protocol.SettingsUpdate{
		AudioEnabled: boolptr(false),
		AudioQuality: f64ptr(2.0),
	})

	assert.False(t, cfg.AudioEnabled)
	assert.InDelta(t, 1.0, cfg.AudioQuality, 1e-9)
}

func TestApplyIsIdempotent(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := testApplier()

	u := protocol.SettingsUpdate{
		StreamingMode:    strptr("Performance"),
		SelectedWindowID: u32ptr(7),
		AudioEnabled:     boolptr(false),
	}

	assert.True(t, a.Apply(context.Background(), &cfg, u))
	after := cfg
	assert.False(t, a.Apply(context.Background(), &cfg, u))
	assert.Equal(t, after, cfg)
}
