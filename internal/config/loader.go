package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voiceguard/internal/alert"
	"github.com/MrWong99/voiceguard/internal/threat"
	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/provider/vad"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad":     {"webrtc", "energy"},
	"capture": {"malgo", "file"},
	"stt":     {"whisper", "whisper-native"},
	"store":   {"file", "postgres"},
}

// Load reads the YAML configuration file at path, expands ${VAR} references
// from the environment, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// parse expands environment references in data and decodes it.
func parse(data []byte) (*Config, error) {
	return LoadFromReader(strings.NewReader(os.ExpandEnv(string(data))))
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.SampleRate, 16000)
	setDefault(&cfg.Audio.ChunkSize, 1024)
	setDefault(&cfg.Audio.QueueSize, 64)
	setDefault(&cfg.Audio.PollInterval, 100*time.Millisecond)

	setDefault(&cfg.Providers.VAD.Name, "webrtc")
	setDefault(&cfg.Providers.Capture.Name, "malgo")
	setDefault(&cfg.Providers.Store.Name, "file")

	d := &cfg.Detection
	if d.Aggressiveness == nil {
		d.Aggressiveness = new(int)
		*d.Aggressiveness = 3
	}
	setDefault(&d.FrameMs, vad.DefaultFrameSizeMs)
	setDefault(&d.WindowFrames, 20)
	setDefault(&d.EvidenceSeconds, 15.0)
	setDefault(&d.EvidenceWindowSeconds, 8.0)
	setDefault(&d.VolumeHigh, threat.DefaultThresholds.VolumeHigh)
	setDefault(&d.VolumeLow, threat.DefaultThresholds.VolumeLow)
	setDefault(&d.ConfidenceHigh, threat.DefaultThresholds.ConfidenceHigh)
	setDefault(&d.ConfidenceMedium, threat.DefaultThresholds.ConfidenceMedium)
	setDefault(&d.RequiredConsecutive, threat.DefaultCooldown.RequiredConsecutive)
	setDefault(&d.Cooldown, threat.DefaultCooldown.Period)

	setDefault(&cfg.Analysis.Timeout, 20*time.Second)

	setDefault(&cfg.Alerts.Message, alert.DefaultMessage)
	setDefault(&cfg.Alerts.Timeout, 15*time.Second)

	setDefault(&cfg.Storage.IncidentsDir, "incidents")
	setDefault(&cfg.Storage.EvidenceDir, "incident_evidence")
	setDefault(&cfg.Storage.WAVEncoding, string(audio.EncodingPCM16))
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if !slices.Contains(vad.SupportedSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: %v", cfg.Audio.SampleRate, vad.SupportedSampleRates))
	}
	if cfg.Audio.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size %d must not be negative", cfg.Audio.ChunkSize))
	}
	if cfg.Audio.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must not be negative", cfg.Audio.QueueSize))
	}

	// Unknown provider names only warn.
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, fb := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("store", cfg.Providers.Store.Name)

	// Detection
	d := cfg.Detection
	if d.Aggressiveness != nil && (*d.Aggressiveness < 0 || *d.Aggressiveness > 3) {
		errs = append(errs, fmt.Errorf("detection.aggressiveness %d is out of range [0, 3]", *d.Aggressiveness))
	}
	switch d.FrameMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("detection.frame_ms %d is invalid; valid values: 10, 20, 30", d.FrameMs))
	}
	if d.WindowFrames < 1 {
		errs = append(errs, fmt.Errorf("detection.window_frames %d must be at least 1", d.WindowFrames))
	}
	if d.EvidenceSeconds <= 0 || d.EvidenceWindowSeconds <= 0 {
		errs = append(errs, errors.New("detection.evidence_seconds and evidence_window_seconds must be positive"))
	} else if d.EvidenceWindowSeconds > d.EvidenceSeconds {
		errs = append(errs, fmt.Errorf("detection.evidence_window_seconds %.1f exceeds evidence_seconds %.1f", d.EvidenceWindowSeconds, d.EvidenceSeconds))
	}
	if err := cfg.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detection: %w", err))
	}
	if d.RequiredConsecutive < 1 {
		errs = append(errs, fmt.Errorf("detection.required_consecutive %d must be at least 1", d.RequiredConsecutive))
	}
	if d.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("detection.cooldown %s must not be negative", d.Cooldown))
	}

	// Analysis
	a := cfg.Analysis
	for name, t := range map[string]KeywordTable{"high": a.High, "medium": a.Medium, "regional": a.Regional} {
		if t.Weight < 0 || t.Weight > 1 {
			errs = append(errs, fmt.Errorf("analysis.%s.weight %.2f is out of range [0, 1]", name, t.Weight))
		}
	}
	if a.FuzzyThreshold != nil && (*a.FuzzyThreshold < 0 || *a.FuzzyThreshold > 1) {
		errs = append(errs, fmt.Errorf("analysis.fuzzy_threshold %.2f is out of range [0, 1]", *a.FuzzyThreshold))
	}
	if a.Enabled && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("analysis.enabled requires providers.stt"))
	}
	if !a.Enabled && cfg.Providers.STT.Name != "" {
		slog.Warn("providers.stt is configured but analysis.enabled is false; incidents will be recorded audio-only")
	}

	// Alerts
	if err := alert.ValidateDestinations(cfg.Alerts.Destinations); err != nil {
		errs = append(errs, fmt.Errorf("alerts.destinations: %w", err))
	}
	errs = append(errs, validateAlertTransports(cfg.Alerts)...)

	// Storage
	if !audio.Encoding(cfg.Storage.WAVEncoding).IsValid() {
		errs = append(errs, fmt.Errorf("storage.wav_encoding %q is invalid; valid values: pcm16, float32", cfg.Storage.WAVEncoding))
	}
	if cfg.Providers.Store.Name == "postgres" && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("providers.store postgres requires storage.postgres_dsn"))
	}

	return errors.Join(errs...)
}

// validateAlertTransports checks that every scheme used by a destination has
// its transport configured.
func validateAlertTransports(a AlertsConfig) []error {
	var errs []error
	seen := make(map[string]bool)
	for _, dest := range a.Destinations {
		scheme, _, err := alert.ParseDestination(dest)
		if err != nil || seen[scheme] {
			continue
		}
		seen[scheme] = true
		switch scheme {
		case alert.SMSScheme:
			if a.SMS.APIURL == "" {
				errs = append(errs, errors.New("alerts: sms destinations require alerts.sms.api_url"))
			}
		case alert.DiscordScheme:
			if a.Discord.Token == "" {
				errs = append(errs, errors.New("alerts: discord destinations require alerts.discord.token"))
			}
		case alert.RedisScheme:
			if a.Redis.URL == "" {
				errs = append(errs, errors.New("alerts: redis destinations require alerts.redis.url"))
			}
		default:
			errs = append(errs, fmt.Errorf("alerts: unknown destination scheme %q; valid schemes: sms, discord, redis", scheme))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Thresholds returns the classifier thresholds from the detection section.
func (c *Config) Thresholds() threat.Thresholds {
	d := c.Detection
	return threat.Thresholds{
		VolumeHigh:       d.VolumeHigh,
		VolumeLow:        d.VolumeLow,
		ConfidenceHigh:   d.ConfidenceHigh,
		ConfidenceMedium: d.ConfidenceMedium,
	}
}

// CooldownConfig returns the incident confirmation settings.
func (c *Config) CooldownConfig() threat.CooldownConfig {
	return threat.CooldownConfig{
		RequiredConsecutive: c.Detection.RequiredConsecutive,
		Period:              c.Detection.Cooldown,
	}
}

// VADConfig returns the VAD settings. SampleRate is filled from the audio
// section.
func (c *Config) VADConfig() vad.Config {
	aggr := 3
	if c.Detection.Aggressiveness != nil {
		aggr = *c.Detection.Aggressiveness
	}
	return vad.Config{
		SampleRate:     c.Audio.SampleRate,
		FrameSizeMs:    c.Detection.FrameMs,
		Aggressiveness: aggr,
	}
}

// SlogLevel maps l to a slog level. Unknown values map to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
