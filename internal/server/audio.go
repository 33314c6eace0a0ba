package server

import (
	"context"
	"encoding/binary"
	"time"

	"mirrorcast/internal/core/domain"
	"mirrorcast/internal/core/ports"
	"mirrorcast/internal/protocol"
)

// startAudio initializes the first audio path that accepts the tap
// callback and launches the flush loop. Paths are each tried exactly
// once; when all fail, audio stays disabled for the session.
func (s *Server) startAudio(ctx context.Context) {
	if s.audioDisabled.Load() || len(s.audioSources) == 0 {
		return
	}

	s.audioRing.Drain()

	var active ports.AudioSource
	for i, src := range s.audioSources {
		if err := src.Start(s.onAudioSamples); err != nil {
			s.logger.Warnw("audio path failed to initialize", "path", i, "error", err)
			continue
		}
		active = src
		break
	}
	if active == nil {
		s.logger.Errorw("all audio paths failed, disabling audio for this session")
		s.audioDisabled.Store(true)
		s.noteError("audio_init")
		return
	}

	s.audioState.Lock()
	s.audioState.active = active
	s.audioState.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.audioFlushLoop(ctx)
	}()
}

func (s *Server) stopAudio() {
	s.audioState.Lock()
	active := s.audioState.active
	s.audioState.active = nil
	s.audioState.Unlock()

	if active != nil {
		active.Stop()
	}
	s.audioRing.Drain()
}

// onAudioSamples runs on the capture thread. It must never block: the
// ring overwrites its oldest samples when full.
func (s *Server) onAudioSamples(samples []float32, format domain.AudioFormat) {
	s.audioState.Lock()
	s.audioState.format = format
	s.audioState.Unlock()
	s.audioRing.Write(samples)
}

func (s *Server) audioFormat() domain.AudioFormat {
	s.audioState.Lock()
	defer s.audioState.Unlock()
	f := s.audioState.format
	if f.Channels <= 0 {
		f.Channels = 2
	}
	if f.SampleRate <= 0 {
		f.SampleRate = 44100
	}
	return f
}

// audioFlushLoop periodically drains the ring, applies quality
// scaling, converts to int16 and fans the packet out.
func (s *Server) audioFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Audio.FlushInterval)
	defer ticker.Stop()

	buf := make([]float32, s.cfg.Audio.BufferSamples)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		enabled := s.stream.AudioEnabled
		quality := s.stream.AudioQuality
		s.mu.Unlock()
		if !enabled || s.audioDisabled.Load() {
			continue
		}

		n := s.audioRing.Read(buf)
		if n == 0 {
			continue
		}

		samples := encodeInt16(buf[:n], quality)
		format := s.audioFormat()
		info := protocol.AudioInfo{
			Type:       "audio",
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Samples:    n / format.Channels,
			Timestamp:  float64(time.Now().UnixNano()) / 1e9,
			Quality:    quality,
			Format:     "int16",
		}

		pkt, err := protocol.EncodeAudioPacket(info, samples)
		if err != nil {
			s.logger.Errorw("audio framing failed", "error", err)
			continue
		}

		for _, c := range s.peers() {
			if !c.enqueue(pkt) {
				s.metrics.BacklogDrop()
			}
		}
		s.metrics.AudioPacket(len(pkt))
	}
}

// encodeInt16 scales float samples by quality and converts them to
// little-endian int16 with clipping.
func encodeInt16(samples []float32, quality float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * quality * 32767
		if v > 32767 {
			v = 32767
		}
		if v < -32767 {
			v = -32767
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
