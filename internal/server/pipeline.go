package server

import (
	"context"
	"errors"
	"time"

	"mirrorcast/internal/core/domain"
	"mirrorcast/internal/core/services"
	"mirrorcast/internal/infrastructure/capture"
	"mirrorcast/internal/protocol"
	"mirrorcast/pkg/tracing"
)

// captureLoop drives the capture tick at 1/fps_target, recomputing the
// period every iteration so fps changes take effect on the next tick.
func (s *Server) captureLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		period := s.stream.TickPeriod()
		s.mu.Unlock()

		timer := time.NewTimer(period)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.tickReset:
			timer.Stop()
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

// tick produces one video frame and fans it out. At most one tick is
// in the capture critical section at a time; an overlapping tick
// counts a dropped frame and returns immediately.
func (s *Server) tick(ctx context.Context) {
	if !s.capturing.CompareAndSwap(false, true) {
		s.noteDropped("tick_overlap")
		return
	}
	defer s.capturing.Store(false)

	start := time.Now()

	if s.underPressure() {
		s.noteDropped("pressure")
		s.perfWindow.Add(time.Since(start))
		return
	}

	avg := s.perfWindow.Mean()
	rtt := s.rttWindow.Mean()

	s.mu.Lock()
	scale := services.OutputScale(&s.stream, avg, rtt)
	s.stream.OutputScale = scale
	cfg := s.stream
	s.mu.Unlock()

	ctx, span := tracing.TraceTick(ctx, cfg.FPSTarget, cfg.ImageQuality)
	defer span.End()

	img := s.captureFrame(ctx, cfg)

	jpegBytes, err := s.encoder.EncodeJPEG(img, cfg.ImageQuality)
	if err != nil || len(jpegBytes) == 0 {
		// An encode failure drops the frame for all peers; the timer
		// keeps running.
		s.logger.Warnw("frame encode failed", "error", err)
		s.noteError("encode")
		s.noteDropped("encode")
		s.perfWindow.Add(time.Since(start))
		return
	}

	status := protocol.Status{
		FPS:            cfg.FPSTarget,
		Quality:        int(cfg.ImageQuality*100 + 0.5),
		LatencyMS:      int(rtt.Milliseconds()),
		AudioEnabled:   cfg.AudioEnabled && !s.audioDisabled.Load(),
		AudioLatencyMS: int(rtt.Milliseconds()),
	}
	frame, err := protocol.EncodeVideoFrame(status, jpegBytes)
	if err != nil {
		s.logger.Errorw("frame framing failed", "error", err)
		s.noteDropped("framing")
		return
	}

	now := time.Now()
	for _, c := range s.peers() {
		if c.enqueue(frame) {
			c.markFrameSent(now)
		} else {
			s.metrics.BacklogDrop()
		}
	}

	s.mu.Lock()
	s.framesSent++
	s.mu.Unlock()

	elapsed := time.Since(start)
	s.perfWindow.Add(elapsed)
	s.metrics.FrameSent(len(frame), elapsed)
}

// underPressure gates the tick on thermal state and accumulated memory
// warnings.
func (s *Server) underPressure() bool {
	if s.monitor != nil && s.monitor.ThermalState() >= domain.ThermalSerious {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memGuard.Warnings() > pressureWarningLimit
}

// captureFrame resolves the capture target and invokes the capture
// primitive under the hard deadline. Every failure path yields the
// deterministic fallback image so receivers keep getting frames.
func (s *Server) captureFrame(ctx context.Context, cfg domain.StreamConfig) *domain.RawImage {
	width, height, ok := s.resolveTarget(ctx, cfg.Target)
	if !ok {
		s.noteError("capture_unavailable")
		return capture.FallbackImage(cfg)
	}

	scale := domain.ClampOutputScale(cfg.OutputScale)
	scaledW := int(float64(width) * scale)
	scaledH := int(float64(height) * scale)

	captureCtx, cancel := context.WithTimeout(ctx, s.cfg.Stream.CaptureTimeout)
	defer cancel()

	img, err := s.capture.Capture(captureCtx, cfg.Target, scaledW, scaledH, true)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.noteError("capture_timeout")
			s.noteDropped("capture_timeout")
		} else {
			s.noteError("capture_error")
		}
		return capture.FallbackImage(cfg)
	}
	return img
}

// resolveTarget maps the capture target onto its intrinsic pixel size
// against the live content list. Resolution is attempted afresh every
// tick; failure means a single-tick fallback without state changes.
func (s *Server) resolveTarget(ctx context.Context, target domain.CaptureTarget) (width, height int, ok bool) {
	resolveCtx, cancel := context.WithTimeout(ctx, s.cfg.Stream.CaptureTimeout)
	defer cancel()

	displays, err := s.enum.ListDisplays(resolveCtx)
	if err != nil || len(displays) == 0 {
		return 0, 0, false
	}

	primary := displays[0]
	switch target.Kind {
	case domain.CaptureSingleWindow:
		windows, err := s.enum.ListWindows(resolveCtx)
		if err != nil {
			return 0, 0, false
		}
		for _, w := range windows {
			if w.ID == target.WindowID {
				// Window geometry is owned by the capture backend; the
				// primary display bounds the scaled request.
				return primary.Width, primary.Height, true
			}
		}
		return 0, 0, false
	default:
		if target.DisplayID == 0 {
			return primary.Width, primary.Height, true
		}
		for _, d := range displays {
			if d.ID == target.DisplayID {
				return d.Width, d.Height, true
			}
		}
		return 0, 0, false
	}
}
