package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anyllm", "mock"},
	"embeddings": {"openai", "ollama", "mock"},
}

// ValidObjectStoreBackends lists the object-store backends the registry
// knows how to construct (§4.6).
var ValidObjectStoreBackends = []string{"local", "s3", "gcs", "azblob"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in the documented defaults (§6) for any tunable left
// at its zero value.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Audio.RecordMs == 0 {
		cfg.Audio.RecordMs = 30000
	}
	if cfg.Audio.ExpectedCodec == "" {
		cfg.Audio.ExpectedCodec = "pcm_s16le"
	}
	if cfg.Audio.ExpectedSampleRateHz == 0 {
		cfg.Audio.ExpectedSampleRateHz = 16000
	}
	if cfg.Audio.ExpectedChannels == 0 {
		cfg.Audio.ExpectedChannels = 1
	}
	if cfg.Video.SampleMs == 0 {
		cfg.Video.SampleMs = 1000
	}
	if cfg.Video.DHashThreshold == 0 {
		cfg.Video.DHashThreshold = 16
	}
	if cfg.Video.CandidateTicks == 0 {
		cfg.Video.CandidateTicks = 2
	}
	if cfg.Video.SSIMThreshold == 0 {
		cfg.Video.SSIMThreshold = 0.90
	}
	if cfg.Video.CooldownMs == 0 {
		cfg.Video.CooldownMs = 2000
	}
	if cfg.Video.DetectWidth == 0 {
		cfg.Video.DetectWidth = 320
	}
	if cfg.Video.DetectHeight == 0 {
		cfg.Video.DetectHeight = 180
	}
	if cfg.Video.CaptureWidth == 0 {
		cfg.Video.CaptureWidth = 960
	}
	if cfg.Video.CaptureHeight == 0 {
		cfg.Video.CaptureHeight = 540
	}
	if cfg.Window.LengthMs == 0 {
		cfg.Window.LengthMs = 120000
	}
	if cfg.Window.OverlapMs == 0 {
		cfg.Window.OverlapMs = 15000
	}
	if cfg.STT.Timeout == 0 {
		cfg.STT.Timeout = 20 * time.Second
	}
	if cfg.ObjectStore.Backend == "" {
		cfg.ObjectStore.Backend = "local"
	}
	if cfg.ObjectStore.LocalDir == "" {
		cfg.ObjectStore.LocalDir = "./data/files"
	}
	if cfg.ObjectStore.LocalURLPrefix == "" {
		cfg.ObjectStore.LocalURLPrefix = "/files"
	}
	if cfg.ObjectStore.PresignTTL == 0 {
		cfg.ObjectStore.PresignTTL = 15 * time.Minute
	}
	if cfg.Database.EmbeddingDimensions == 0 {
		cfg.Database.EmbeddingDimensions = 1536
	}
	if cfg.WebSearch.Timeout == 0 {
		cfg.WebSearch.Timeout = 10 * time.Second
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.LLM.Name)
	validateProviderName("embeddings", cfg.Embeddings.Name)

	if cfg.STT.Enabled && cfg.STT.URL == "" {
		errs = append(errs, fmt.Errorf("stt.url is required when stt.enabled is true"))
	}

	if cfg.WebSearch.Enabled && cfg.WebSearch.URL == "" {
		errs = append(errs, fmt.Errorf("web_search.url is required when web_search.enabled is true"))
	}

	if !slices.Contains(ValidObjectStoreBackends, cfg.ObjectStore.Backend) {
		errs = append(errs, fmt.Errorf("object_store.backend %q is invalid; valid values: %v", cfg.ObjectStore.Backend, ValidObjectStoreBackends))
	}
	switch cfg.ObjectStore.Backend {
	case "s3":
		if cfg.ObjectStore.Bucket == "" {
			errs = append(errs, fmt.Errorf("object_store.bucket is required for backend %q", cfg.ObjectStore.Backend))
		}
	case "gcs":
		if cfg.ObjectStore.Bucket == "" {
			errs = append(errs, fmt.Errorf("object_store.bucket is required for backend %q", cfg.ObjectStore.Backend))
		}
	case "azblob":
		if cfg.ObjectStore.AzureConnectionString == "" || cfg.ObjectStore.Bucket == "" {
			errs = append(errs, fmt.Errorf("object_store.azure_connection_string and object_store.bucket are required for backend %q", cfg.ObjectStore.Backend))
		}
	}

	if cfg.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required"))
	}
	if cfg.Embeddings.Name != "" && cfg.Database.EmbeddingDimensions <= 0 {
		slog.Warn("embeddings is configured but database.embedding_dimensions is not set; defaulting to 1536")
	}

	if cfg.Video.SSIMThreshold < 0 || cfg.Video.SSIMThreshold > 1 {
		errs = append(errs, fmt.Errorf("video.ssim_threshold %.2f is out of range [0, 1]", cfg.Video.SSIMThreshold))
	}
	if cfg.Window.OverlapMs >= cfg.Window.LengthMs {
		errs = append(errs, fmt.Errorf("window.overlap_ms (%d) must be less than window.length_ms (%d)", cfg.Window.OverlapMs, cfg.Window.LengthMs))
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
