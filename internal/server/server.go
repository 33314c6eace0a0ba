package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mirrorcast/internal/core/domain"
	"mirrorcast/internal/core/ports"
	"mirrorcast/internal/core/services"
	"mirrorcast/internal/infrastructure/monitoring"
	"mirrorcast/internal/protocol"
	"mirrorcast/pkg/config"
	"mirrorcast/pkg/ring"
	"mirrorcast/pkg/tracing"
	"mirrorcast/pkg/window"
)

const (
	perfWindowSize = 60
	rttWindowSize  = 30

	recentErrorsCap = 16

	// pressureWarningLimit is the accumulated memory-warning count
	// above which a capture tick is skipped outright.
	pressureWarningLimit = 2
)

// Options wires a Server with its injected collaborators.
type Options struct {
	Config     *config.Config
	Logger     *zap.SugaredLogger
	Capture    ports.Capture
	Encoder    ports.Encoder
	Enumerator ports.ContentEnumerator
	Monitor    ports.SystemMonitor

	// AudioSources are tried in order when streaming starts; the first
	// path that initializes wins. All failing disables audio for the
	// session.
	AudioSources []ports.AudioSource

	// Advertiser may be nil to disable discovery.
	Advertiser ports.Advertiser

	// Metrics may be nil to disable Prometheus export.
	Metrics *monitoring.Collector
}

// Server is the one-to-many mirroring server: listener lifecycle,
// connection set, capture pipeline, audio pipeline, adaptive
// controller and RTT estimation.
type Server struct {
	cfg        *config.Config
	logger     *zap.SugaredLogger
	capture    ports.Capture
	encoder    ports.Encoder
	enum       ports.ContentEnumerator
	monitor    ports.SystemMonitor
	advertiser ports.Advertiser
	metrics    *monitoring.Collector

	controller *services.Controller
	memGuard   *services.MemoryGuard
	settings   *services.SettingsApplier

	perfWindow *window.Window
	rttWindow  *window.Window

	audioSources []ports.AudioSource
	audioRing    *ring.Ring
	audioState   struct {
		sync.Mutex
		active ports.AudioSource
		format domain.AudioFormat
	}
	audioDisabled atomic.Bool

	capturing atomic.Bool

	mu               sync.Mutex
	state            domain.ServerState
	stream           domain.StreamConfig
	conns            map[domain.PeerID]*conn
	background       bool
	started          time.Time
	framesSent       uint64
	droppedTotal     uint64
	droppedSinceEval int
	recentErrors     []string
	streamCancel     context.CancelFunc

	// tickReset wakes the capture loop to pick up a new tick period.
	tickReset chan struct{}

	lnAddr net.Addr

	wg sync.WaitGroup
}

// New assembles a server from its options.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("server: config is required")
	case opts.Capture == nil:
		return nil, fmt.Errorf("server: capture primitive is required")
	case opts.Encoder == nil:
		return nil, fmt.Errorf("server: encoder is required")
	case opts.Enumerator == nil:
		return nil, fmt.Errorf("server: content enumerator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	mode, _ := domain.ParseUserMode(opts.Config.Stream.Mode)
	stream := domain.DefaultStreamConfig(mode)
	if fps := opts.Config.Stream.PreferredFPS; fps != 0 {
		stream.FPSTarget = fps
		stream.UserFPS = fps
	}
	if pct := opts.Config.Stream.PreferredQuality; pct != 0 {
		stream.ImageQuality = float64(pct) / 100
		stream.UserQuality = stream.ImageQuality
	}
	stream.AudioEnabled = opts.Config.Audio.Enabled
	stream.AudioQuality = domain.ClampAudioQuality(opts.Config.Audio.Quality)

	s := &Server{
		cfg:          opts.Config,
		logger:       logger,
		capture:      opts.Capture,
		encoder:      opts.Encoder,
		enum:         opts.Enumerator,
		monitor:      opts.Monitor,
		advertiser:   opts.Advertiser,
		metrics:      opts.Metrics,
		controller:   services.NewController(logger),
		memGuard:     services.NewMemoryGuard(opts.Config.Controller.MemoryLimitMiB, 3, logger),
		settings:     services.NewSettingsApplier(opts.Enumerator, logger),
		perfWindow:   window.New(perfWindowSize),
		rttWindow:    window.New(rttWindowSize),
		audioSources: opts.AudioSources,
		audioRing:    ring.New(opts.Config.Audio.RingSamples),
		state:        domain.StateStopped,
		stream:       stream,
		conns:        make(map[domain.PeerID]*conn),
		tickReset:    make(chan struct{}, 1),
	}
	if !opts.Config.Audio.Enabled {
		s.audioDisabled.Store(true)
	}
	return s, nil
}

// Run drives the listener lifecycle until ctx is cancelled or the
// restart budget is exhausted. It blocks; the returned error is nil
// on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	s.wg.Add(2)
	go s.controllerLoop(ctx)
	go s.memoryLoop(ctx)

	defer func() {
		cancel()
		s.shutdown()
		s.wg.Wait()
	}()

	restarts := 0
	for {
		ln, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
		if err != nil {
			restarts++
			s.logger.Errorw("listener failed to start",
				"address", s.cfg.Server.ListenAddress,
				"restarts", restarts,
				"error", err,
			)
			if restarts > s.cfg.Server.MaxRestarts {
				return fmt.Errorf("listener restart budget exhausted: %w", err)
			}
			if !s.waitRestart(ctx, s.cfg.Server.StartupRestartDelay) {
				return nil
			}
			continue
		}

		s.mu.Lock()
		s.lnAddr = ln.Addr()
		s.mu.Unlock()

		s.setState(domain.StateListening)
		s.advertise()
		s.logger.Infow("listening", "address", ln.Addr().String())

		err = s.acceptLoop(ctx, ln)
		ln.Close()
		if ctx.Err() != nil {
			return nil
		}

		restarts++
		s.logger.Errorw("listener failed", "restarts", restarts, "error", err)
		s.noteError("listener_failure")
		if restarts > s.cfg.Server.MaxRestarts {
			return fmt.Errorf("listener restart budget exhausted: %w", err)
		}
		if !s.waitRestart(ctx, s.cfg.Server.RestartDelay) {
			return nil
		}
	}
}

func (s *Server) waitRestart(ctx context.Context, delay time.Duration) bool {
	s.setState(domain.StateRestarting)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	for {
		tcp, err := ln.Accept()
		if err != nil {
			return err
		}
		s.addPeer(ctx, tcp)
	}
}

func (s *Server) addPeer(ctx context.Context, tcp net.Conn) {
	if t, ok := tcp.(*net.TCPConn); ok {
		t.SetNoDelay(true)
		if s.cfg.Server.ConnectTimeout > 0 {
			t.SetKeepAlive(true)
			t.SetKeepAlivePeriod(s.cfg.Server.ConnectTimeout)
		}
	}

	id := domain.NewPeerID()
	_, span := tracing.TraceAccept(ctx, string(id))
	defer span.End()

	c := newConn(id, tcp, s.cfg.Server.HighWaterMarkBytes, s.logger)

	s.mu.Lock()
	s.conns[id] = c
	first := len(s.conns) == 1
	s.state = domain.StateStreaming
	s.mu.Unlock()

	s.metrics.PeerConnected()
	s.logger.Infow("peer connected",
		"peer_id", id,
		"remote", tcp.RemoteAddr().String(),
		"first", first,
	)

	s.wg.Add(2)
	go func() { defer s.wg.Done(); c.writeLoop(s) }()
	go func() { defer s.wg.Done(); c.readLoop(s) }()

	if first {
		s.startStreaming(ctx)
	}
}

// removePeer is idempotent; both per-connection loops call it on exit.
func (s *Server) removePeer(c *conn) {
	s.mu.Lock()
	_, present := s.conns[c.id]
	if present {
		delete(s.conns, c.id)
	}
	last := present && len(s.conns) == 0
	shuttingDown := s.state == domain.StateStopped
	s.mu.Unlock()

	c.close()
	if !present {
		return
	}

	s.metrics.PeerDisconnected()
	s.logger.Infow("peer disconnected", "peer_id", c.id, "last", last)

	if last {
		s.stopStreaming()
		if !shuttingDown {
			s.setState(domain.StateListening)
		}
	}
}

// startStreaming launches the capture tick and the audio pipeline.
// Called when the first peer joins.
func (s *Server) startStreaming(ctx context.Context) {
	streamCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.streamCancel != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	s.streamCancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.captureLoop(streamCtx)
	}()
	s.startAudio(streamCtx)
}

// stopStreaming halts capture and audio and drains the audio ring.
// Called when the last peer leaves; the listener keeps advertising.
func (s *Server) stopStreaming() {
	s.mu.Lock()
	cancel := s.streamCancel
	s.streamCancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.stopAudio()
}

func (s *Server) shutdown() {
	s.setState(domain.StateStopped)
	s.stopStreaming()
	for _, c := range s.peers() {
		s.removePeer(c)
	}
	if s.advertiser != nil {
		s.advertiser.Shutdown()
	}
}

func (s *Server) advertise() {
	if s.advertiser == nil || !s.cfg.Discovery.Enabled {
		return
	}
	s.mu.Lock()
	instance := s.cfg.Discovery.Instance
	if s.background {
		instance += " (Background)"
	}
	port := listenPort(s.cfg.Server.ListenAddress)
	if tcpAddr, ok := s.lnAddr.(*net.TCPAddr); ok && tcpAddr.Port != 0 {
		port = tcpAddr.Port
	}
	s.mu.Unlock()

	if err := s.advertiser.Advertise(instance, port); err != nil {
		s.logger.Warnw("discovery advertisement failed", "error", err)
	}
}

func listenPort(address string) int {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return 8080
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port <= 0 {
		return 8080
	}
	return port
}

// SetBackgroundMode switches controller cadence and the advertised
// instance name. It does not touch the lifecycle state machine.
func (s *Server) SetBackgroundMode(background bool) {
	s.mu.Lock()
	changed := s.background != background
	s.background = background
	limit := s.cfg.Controller.MemoryLimitMiB
	if background {
		limit = s.cfg.Controller.BackgroundMemoryLimitMiB
	}
	s.memGuard.SetLimit(limit)
	s.mu.Unlock()

	if changed {
		s.logger.Infow("background mode", "enabled", background)
		s.advertise()
	}
}

// controllerLoop evaluates the adaptive controller every 3 seconds in
// the foreground and every 10 seconds in background mode.
func (s *Server) controllerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		interval := s.cfg.Controller.Interval
		if s.background {
			interval = s.cfg.Controller.BackgroundInterval
		}
		s.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !s.isStreaming() {
			continue
		}

		in := services.Inputs{
			AvgFrameTime: s.perfWindow.Mean(),
			RTT:          s.rttWindow.Mean(),
		}
		if s.monitor != nil {
			in.Thermal = s.monitor.ThermalState()
		}

		s.mu.Lock()
		in.DroppedFrames = s.droppedSinceEval
		s.droppedSinceEval = 0
		in.MemWarnings = s.memGuard.Warnings()
		fpsBefore := s.stream.FPSTarget
		s.controller.Evaluate(&s.stream, in)
		fpsChanged := s.stream.FPSTarget != fpsBefore
		s.mu.Unlock()

		if fpsChanged {
			s.resetTick()
		}
	}
}

// resetTick wakes the capture loop so a changed fps target applies to
// the very next tick.
func (s *Server) resetTick() {
	select {
	case s.tickReset <- struct{}{}:
	default:
	}
}

// memoryLoop runs the memory-guard track on its own cadence,
// independent of the controller rules.
func (s *Server) memoryLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Controller.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.monitor == nil {
			continue
		}
		usage := s.monitor.MemoryUsageMiB()
		s.mu.Lock()
		s.memGuard.Step(&s.stream, usage)
		s.mu.Unlock()
	}
}

// handleAck converts a pending frame timestamp into exactly one RTT
// sample. An ack with no frame outstanding is silently dropped.
func (s *Server) handleAck(c *conn) {
	sentAt := c.takeFrameSentAt()
	if sentAt.IsZero() {
		return
	}
	rtt := time.Since(sentAt)
	s.rttWindow.Add(rtt)
	s.metrics.ObserveRTT(rtt)
}

func (s *Server) handleSettings(c *conn, u protocol.SettingsUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.mu.Lock()
	fpsBefore := s.stream.FPSTarget
	changed := s.settings.Apply(ctx, &s.stream, u)
	cfg := s.stream
	s.mu.Unlock()

	if cfg.FPSTarget != fpsBefore {
		s.resetTick()
	}
	if changed {
		s.logger.Infow("settings applied",
			"peer_id", c.id,
			"fps", cfg.FPSTarget,
			"quality", cfg.ImageQuality,
			"mode", cfg.Mode,
			"audio_enabled", cfg.AudioEnabled,
		)
	}
}

func (s *Server) handleRequest(c *conn, req protocol.Request) {
	if req.Action != protocol.ActionGetWindowsDisplays {
		s.logger.Warnw("ignoring unknown request", "peer_id", c.id, "action", req.Action)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp := protocol.WindowsDisplays{Windows: []protocol.WindowEntry{}, Displays: []protocol.DisplayEntry{}}
	if windows, err := s.enum.ListWindows(ctx); err == nil {
		for _, w := range windows {
			resp.Windows = append(resp.Windows, protocol.WindowEntry{ID: w.ID, Title: w.Title, OwnerName: w.OwnerName})
		}
	}
	if displays, err := s.enum.ListDisplays(ctx); err == nil {
		for _, d := range displays {
			resp.Displays = append(resp.Displays, protocol.DisplayEntry{ID: d.ID, Name: d.Name, Width: d.Width, Height: d.Height})
		}
	}

	buf, err := protocol.EncodeWindowsDisplays(resp)
	if err != nil {
		s.logger.Errorw("encoding windows/displays response failed", "error", err)
		return
	}
	c.enqueue(buf)
}

func (s *Server) peers() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) isStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.StateStreaming
}

func (s *Server) setState(state domain.ServerState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Server) State() domain.ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound listener address, or nil before the listener
// is up.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lnAddr
}

func (s *Server) noteDropped(reason string) {
	s.mu.Lock()
	s.droppedTotal++
	s.droppedSinceEval++
	s.mu.Unlock()
	s.metrics.FrameDropped(reason)
}

func (s *Server) noteError(kind string) {
	s.mu.Lock()
	s.recentErrors = append(s.recentErrors, kind)
	if len(s.recentErrors) > recentErrorsCap {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-recentErrorsCap:]
	}
	s.mu.Unlock()
}

// Snapshot returns the read-only status view consumed by the status
// endpoints and the GUI.
func (s *Server) Snapshot() domain.StatusSnapshot {
	rtt := s.rttWindow.Mean()
	avg := s.perfWindow.Mean()

	var memMiB float64
	if s.monitor != nil {
		memMiB = s.monitor.MemoryUsageMiB()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make([]domain.PeerInfo, 0, len(s.conns))
	for _, c := range s.conns {
		peers = append(peers, c.info())
	}
	errorsCopy := append([]string(nil), s.recentErrors...)

	uptime := time.Duration(0)
	if !s.started.IsZero() {
		uptime = time.Since(s.started)
	}

	return domain.StatusSnapshot{
		State:          s.state,
		BackgroundMode: s.background,
		FPS:            s.stream.FPSTarget,
		QualityPercent: int(s.stream.ImageQuality*100 + 0.5),
		OutputScale:    s.stream.OutputScale,
		LatencyMS:      int(rtt.Milliseconds()),
		AudioLatencyMS: int(rtt.Milliseconds()),
		AudioEnabled:   s.stream.AudioEnabled && !s.audioDisabled.Load(),
		AudioQuality:   s.stream.AudioQuality,
		Mode:           s.stream.Mode,
		Peers:          peers,
		PeerCount:      len(peers),
		DroppedFrames:  s.droppedTotal,
		FramesSent:     s.framesSent,
		AvgFrameTimeMS: float64(avg.Microseconds()) / 1000,
		MemoryMiB:      memMiB,
		Uptime:         uptime,
		UptimeSeconds:  int64(uptime.Seconds()),
		RecentErrors:   errorsCopy,
	}
}
