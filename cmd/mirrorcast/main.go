package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mirrorcast/internal/client"
	"mirrorcast/internal/core/domain"
	"mirrorcast/internal/core/ports"
	handlers "mirrorcast/internal/handlers/http"
	"mirrorcast/internal/infrastructure/audio"
	"mirrorcast/internal/infrastructure/capture"
	"mirrorcast/internal/infrastructure/discovery"
	"mirrorcast/internal/infrastructure/monitoring"
	"mirrorcast/internal/protocol"
	"mirrorcast/internal/server"
	"mirrorcast/pkg/config"
	"mirrorcast/pkg/logger"
	"mirrorcast/pkg/retry"
	"mirrorcast/pkg/tracing"
)

const (
	exitOK              = 0
	exitListenerFailure = 1
	exitBadConfig       = 2
	exitInterrupted     = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	subcmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "serve":
		return runServe(args)
	case "client":
		return runClient(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\nusage: mirrorcast [serve|client] [flags]\n", subcmd)
		return exitBadConfig
	}
}

func loadConfig(configPath string, port int, mode string, noAudio bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if port != 0 {
		cfg.Server.ListenAddress = fmt.Sprintf(":%d", port)
	}
	if mode != "" {
		if _, ok := domain.ParseUserMode(mode); !ok {
			return nil, fmt.Errorf("invalid mode %q (performance|balanced|fidelity)", mode)
		}
		cfg.Stream.Mode = strings.ToLower(mode)
	}
	if noAudio {
		cfg.Audio.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "configs/config.yaml", "path to the YAML configuration file")
	port := fs.Int("port", 0, "listener port (overrides config)")
	mode := fs.String("mode", "", "streaming mode: performance|balanced|fidelity")
	noAudio := fs.Bool("no-audio", false, "disable the audio pipeline")
	if err := fs.Parse(args); err != nil {
		return exitBadConfig
	}

	cfg, err := loadConfig(*configPath, *port, *mode, *noAudio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitBadConfig
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer log.Sync()
	sugar := log.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "mirrorcast",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Warnw("tracing disabled", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			tp.Shutdown(shutdownCtx)
		}()
	}

	var metrics *monitoring.Collector
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewCollector(prometheus.DefaultRegisterer)
	}

	var advertiser ports.Advertiser
	if cfg.Discovery.Enabled {
		advertiser = discovery.NewAdvertiser(cfg.Discovery.Service, cfg.Discovery.Domain, sugar)
	}

	srv, err := server.New(server.Options{
		Config:       cfg,
		Logger:       sugar,
		Capture:      capture.NewSyntheticSource(),
		Encoder:      capture.JPEGEncoder{},
		Enumerator:   capture.NewSyntheticEnumerator(),
		Monitor:      capture.RuntimeMonitor{},
		AudioSources: []ports.AudioSource{audio.NewToneSource()},
		Advertiser:   advertiser,
		Metrics:      metrics,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitBadConfig
	}

	status := handlers.NewStatusHandler(srv, sugar)
	go func() {
		if err := http.ListenAndServe(cfg.Monitoring.StatusAddress, status.Router(cfg.Monitoring.PrometheusEnabled)); err != nil {
			sugar.Warnw("status server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx)
	if ctx.Err() != nil {
		sugar.Infow("interrupted")
		return exitInterrupted
	}
	if err != nil {
		sugar.Errorw("server terminated", "error", err)
		return exitListenerFailure
	}
	return exitOK
}

func runClient(args []string) int {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	configPath := fs.String("config", "configs/config.yaml", "path to the YAML configuration file")
	host := fs.String("host", "", "server host (skips discovery)")
	port := fs.Int("port", 8080, "server port")
	mode := fs.String("mode", "", "request a streaming mode after connecting")
	noAudio := fs.Bool("no-audio", false, "ask the server to mute audio for this session")
	if err := fs.Parse(args); err != nil {
		return exitBadConfig
	}

	cfg, err := loadConfig(*configPath, 0, "", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitBadConfig
	}
	var requestMode domain.UserMode
	if *mode != "" {
		m, ok := domain.ParseUserMode(*mode)
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid mode %q (performance|balanced|fidelity)\n", *mode)
			return exitBadConfig
		}
		requestMode = m
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer log.Sync()
	sugar := log.Sugar()

	var frames, audioPackets atomic.Uint64

	var cl *client.Client
	cl, err = client.New(client.Options{
		Host:          *host,
		Port:          *port,
		Browser:       discovery.NewBrowser(cfg.Discovery.Service, cfg.Discovery.Domain, sugar),
		BrowseTimeout: cfg.Client.BrowseTimeout,
		DialTimeout:   cfg.Client.DialTimeout,
		Retry: retry.Config{
			MaxAttempts: cfg.Client.ReconnectAttempts,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Logger: sugar,
		Sinks: client.Sinks{
			Frame: func(status protocol.Status, image []byte) {
				n := frames.Add(1)
				if n%60 == 1 {
					sugar.Infow("receiving",
						"frames", n,
						"fps", status.FPS,
						"quality", status.Quality,
						"latency_ms", status.LatencyMS,
						"audio", status.AudioEnabled,
					)
				}
			},
			Audio: func(info protocol.AudioInfo, samples []byte) {
				audioPackets.Add(1)
			},
			WindowsDisplays: func(resp protocol.WindowsDisplays) {
				sugar.Infow("content list",
					"windows", len(resp.Windows),
					"displays", len(resp.Displays),
				)
			},
			StateChange: func(state client.State, cerr *client.ConnectionError) {
				if cerr != nil {
					sugar.Warnw("connection state", "state", state, "error", cerr)
				} else {
					sugar.Infow("connection state", "state", state)
				}
				if state == client.StateStreaming && (requestMode != "" || *noAudio) {
					u := protocol.SettingsUpdate{}
					if requestMode != "" {
						m := string(requestMode)
						u.StreamingMode = &m
					}
					if *noAudio {
						off := false
						u.AudioEnabled = &off
					}
					if err := cl.SendSettings(u); err != nil {
						sugar.Warnw("settings send failed", "error", err)
					}
				}
			},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitBadConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = cl.Run(ctx)
	if ctx.Err() != nil {
		return exitInterrupted
	}
	if err != nil {
		sugar.Errorw("client terminated", "error", err)
		return exitListenerFailure
	}
	return exitOK
}
