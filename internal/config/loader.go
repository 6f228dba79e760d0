package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the corresponding field is zero.
const (
	defaultListenAddr        = ":8080"
	defaultModel             = "gpt-realtime"
	defaultVoice             = "alloy"
	defaultVADThreshold      = 0.5
	defaultVADPrefixMs       = 100
	defaultVADSilenceMs      = 200
	defaultRenewSeconds      = 55 * 60
	defaultGraceSeconds      = 3
	defaultWatchdogSeconds   = 4
	defaultTranslitTimeoutS  = 3
	defaultNotifyTimeoutS    = 5
	defaultTranscribeModelID = "gpt-4o-mini"
	defaultTranscription     = "whisper-1"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with production defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModel
	}
	if cfg.AI.Voice == "" {
		cfg.AI.Voice = defaultVoice
	}
	if cfg.AI.TranscriptionModel == "" {
		cfg.AI.TranscriptionModel = defaultTranscription
	}
	if cfg.AI.AudioMode == "" {
		cfg.AI.AudioMode = AudioPassthrough
	}
	if cfg.AI.VAD == (VADConfig{}) {
		cfg.AI.VAD = VADConfig{
			Threshold:         defaultVADThreshold,
			PrefixPaddingMs:   defaultVADPrefixMs,
			SilenceDurationMs: defaultVADSilenceMs,
		}
	}
	if cfg.AI.RenewIntervalSeconds == 0 {
		cfg.AI.RenewIntervalSeconds = defaultRenewSeconds
	}
	if cfg.AI.EndCallGraceSeconds == 0 {
		cfg.AI.EndCallGraceSeconds = defaultGraceSeconds
	}
	if cfg.AI.EndCallWatchdogSeconds == 0 {
		cfg.AI.EndCallWatchdogSeconds = defaultWatchdogSeconds
	}
	if cfg.Transcript.Transliterate.Enabled {
		if cfg.Transcript.Transliterate.Model == "" {
			cfg.Transcript.Transliterate.Model = defaultTranscribeModelID
		}
		if cfg.Transcript.Transliterate.TimeoutSeconds == 0 {
			cfg.Transcript.Transliterate.TimeoutSeconds = defaultTranslitTimeoutS
		}
	}
	if cfg.Notify.WebhookURL != "" && cfg.Notify.TimeoutSeconds == 0 {
		cfg.Notify.TimeoutSeconds = defaultNotifyTimeoutS
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.AI.APIKey == "" {
		errs = append(errs, errors.New("ai.api_key is required"))
	}
	if !cfg.AI.AudioMode.IsValid() {
		errs = append(errs, fmt.Errorf("ai.audio_mode %q is invalid; valid values: passthrough, transcode", cfg.AI.AudioMode))
	}
	if th := cfg.AI.VAD.Threshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("ai.vad.threshold %v must be within [0, 1]", th))
	}
	if cfg.AI.RenewIntervalSeconds < 0 {
		errs = append(errs, errors.New("ai.renew_interval_seconds must not be negative"))
	}

	if !cfg.Telephony.HasCredentials() {
		if cfg.Telephony.AccountSid != "" || cfg.Telephony.AuthToken != "" {
			errs = append(errs, errors.New("telephony credentials are incomplete; set both account_sid and auth_token or neither"))
		} else {
			slog.Warn("telephony credentials not configured; REST hangup and recording are disabled")
		}
	}
	if cfg.Telephony.Record && !cfg.Telephony.HasCredentials() {
		errs = append(errs, errors.New("telephony.record requires account_sid and auth_token"))
	}

	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; calls will not be archived")
	}

	return errors.Join(errs...)
}
