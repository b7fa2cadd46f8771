// Command voiceguard is the main entry point for the VoiceGuard acoustic
// threat-detection server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/voiceguard/internal/app"
	"github.com/MrWong99/voiceguard/internal/config"
	"github.com/MrWong99/voiceguard/internal/health"
	"github.com/MrWong99/voiceguard/internal/observe"
	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/audio/capture"
	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/incident/filestore"
	"github.com/MrWong99/voiceguard/pkg/incident/postgres"
	"github.com/MrWong99/voiceguard/pkg/provider/stt"
	"github.com/MrWong99/voiceguard/pkg/provider/stt/whisper"
	"github.com/MrWong99/voiceguard/pkg/provider/vad"
	"github.com/MrWong99/voiceguard/pkg/provider/vad/energy"
	"github.com/MrWong99/voiceguard/pkg/provider/vad/webrtc"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file with secrets referenced as ${VAR} in the config")
	autostart := flag.Bool("autostart", true, "start monitoring immediately instead of waiting for the API")
	flag.Parse()

	// ── Secrets ───────────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voiceguard: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceguard: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceguard: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voiceguard starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_ *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.ApplyConfig(d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	checkers := []health.Checker{
		health.StoreChecker(application.Store()),
		health.MonitorChecker(application.Session()),
	}
	if cfg.Providers.Store.Name == "file" {
		checkers = append(checkers,
			health.DirChecker("incidents_dir", cfg.Storage.IncidentsDir),
			health.DirChecker("evidence_dir", cfg.Storage.EvidenceDir),
		)
	}
	health.New(checkers...).Register(mux)
	application.RegisterAPI(mux)
	mux.Handle("GET /metrics", tel.MetricsHandler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if *autostart {
		if err := application.Start(ctx); err != nil {
			slog.Error("failed to start monitoring", "err", err)
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	exit := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err, ok := <-serveErr:
		if ok && err != nil {
			slog.Error("http server error", "err", err)
			exit = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, cfg *config.Config) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if th := entry.OptionFloat("threshold", 0); th > 0 {
			opts = append(opts, energy.WithThreshold(th))
		}
		return energy.New(opts...), nil
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("malgo", func(config.ProviderEntry) (audio.Source, error) {
		return capture.NewDevice(capture.DeviceConfig{
			SampleRate: cfg.Audio.SampleRate,
			ChunkSize:  cfg.Audio.ChunkSize,
			QueueSize:  cfg.Audio.QueueSize,
		})
	})

	// file replays a WAV recording; useful for demos and regression runs.
	reg.RegisterCapture("file", func(entry config.ProviderEntry) (audio.Source, error) {
		path := entry.OptionString("path", "")
		if path == "" {
			return nil, errors.New("capture file: options.path is required")
		}
		return capture.NewFile(capture.FileConfig{
			Path:      path,
			ChunkSize: cfg.Audio.ChunkSize,
			QueueSize: cfg.Audio.QueueSize,
			Realtime:  entry.OptionBool("realtime", true),
		})
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.OptionFloat("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Incident store ────────────────────────────────────────────────────────

	enc := audio.Encoding(cfg.Storage.WAVEncoding)

	reg.RegisterStore("file", func(config.ProviderEntry) (incident.Store, error) {
		return filestore.New(cfg.Storage.IncidentsDir, cfg.Storage.EvidenceDir, filestore.WithEncoding(enc))
	})

	reg.RegisterStore("postgres", func(config.ProviderEntry) (incident.Store, error) {
		return postgres.NewStore(ctx, cfg.Storage.PostgresDSN, postgres.WithEncoding(enc))
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	if ps.Capture, err = reg.CreateCapture(cfg.Providers.Capture); err != nil {
		return nil, fmt.Errorf("create capture provider %q: %w", cfg.Providers.Capture.Name, err)
	}
	slog.Info("provider created", "kind", "capture", "name", cfg.Providers.Capture.Name)

	if ps.Store, err = reg.CreateStore(cfg.Providers.Store); err != nil {
		return nil, fmt.Errorf("create store provider %q: %w", cfg.Providers.Store.Name, err)
	}
	slog.Info("provider created", "kind", "store", "name", cfg.Providers.Store.Name)

	// STT is optional: without it incidents are recorded audio-only.
	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			slog.Warn("stt provider unavailable; content analysis disabled", "name", name, "err", err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}
	if ps.STT != nil {
		for _, fb := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(fb)
			if err != nil {
				slog.Warn("stt fallback unavailable", "name", fb.Name, "err", err)
				continue
			}
			ps.STTFallbacks = append(ps.STTFallbacks, app.NamedSTT{Name: fb.Name, Provider: p})
			slog.Info("provider created", "kind", "stt_fallback", "name", fb.Name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       VoiceGuard — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("VAD", providerLabel(cfg.Providers.VAD))
	printRow("Capture", providerLabel(cfg.Providers.Capture))
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("STT fallbacks", fmt.Sprint(len(cfg.Providers.STTFallbacks)))
	printRow("Store", providerLabel(cfg.Providers.Store))
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("Thresholds", fmt.Sprintf("%.0f / %.2f", cfg.Detection.VolumeHigh, cfg.Detection.ConfidenceHigh))
	printRow("Cooldown", cfg.Detection.Cooldown.String())
	printRow("Analysis", enabled(cfg.Analysis.Enabled))
	printRow("Destinations", fmt.Sprint(len(cfg.Alerts.Destinations)))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "(disabled)"
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}
