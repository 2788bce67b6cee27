// Package config provides the configuration schema, loader, and provider
// registry for the realtime meeting-companion ingest/recap server.
package config

import "time"

// Config is the root configuration structure for the server. It is
// typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	Video       VideoConfig       `yaml:"video"`
	Window      WindowConfig      `yaml:"window"`
	STT         STTConfig         `yaml:"stt"`
	LLM         ProviderEntry     `yaml:"llm"`
	Embeddings  ProviderEntry     `yaml:"embeddings"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	WebSearch   WebSearchConfig   `yaml:"web_search"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// AudioConfig mirrors §4.3's audio-record rotation tunables.
type AudioConfig struct {
	// RecordMs is the target length of one rotated audio record, in
	// milliseconds. Defaults to 30000 (30s).
	RecordMs int64 `yaml:"record_ms"`

	// ExpectedCodec, ExpectedSampleRateHz, ExpectedChannels describe the
	// single audio format the gateway accepts on the audio channel.
	ExpectedCodec        string `yaml:"expected_codec"`
	ExpectedSampleRateHz int    `yaml:"expected_sample_rate_hz"`
	ExpectedChannels     int    `yaml:"expected_channels"`
}

// VideoConfig mirrors §4.5's slide-change detector tunables.
type VideoConfig struct {
	SampleMs          int64   `yaml:"sample_ms"`
	DHashThreshold     int     `yaml:"dhash_threshold"`
	CandidateTicks     int     `yaml:"candidate_ticks"`
	SSIMThreshold      float64 `yaml:"ssim_threshold"`
	CooldownMs         int64   `yaml:"cooldown_ms"`
	DetectWidth        int     `yaml:"detect_width"`
	DetectHeight       int     `yaml:"detect_height"`
	CaptureWidth       int     `yaml:"capture_width"`
	CaptureHeight      int     `yaml:"capture_height"`
}

// WindowConfig mirrors §4.7's recap-window scheduler tunables.
type WindowConfig struct {
	LengthMs  int64 `yaml:"length_ms"`
	OverlapMs int64 `yaml:"overlap_ms"`
}

// STTConfig configures the batch ASR backend the audio pipeline submits
// finalized records to (§4.4).
type STTConfig struct {
	// Enabled turns the whole transcription stage off, e.g. for ingest-only
	// test harnesses that inject transcript segments directly (§4.11).
	Enabled bool `yaml:"enabled"`

	// URL is the batch ASR endpoint's base URL.
	URL string `yaml:"url"`

	// Timeout bounds one transcription request.
	Timeout time.Duration `yaml:"timeout"`
}

// ProviderEntry is the common configuration block shared by pluggable LLM
// and embeddings backends. Name selects the registered constructor.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "anyllm", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Backend names the underlying service an "anyllm" entry should target
	// (e.g., "anthropic", "gemini", "ollama"); ignored by other providers.
	Backend string `yaml:"backend"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// ObjectStoreConfig selects and configures the durable byte store behind
// captured frames and audio artifacts (§4.6).
type ObjectStoreConfig struct {
	// Backend selects the implementation. Valid values: "local", "s3",
	// "gcs", "azblob".
	Backend string `yaml:"backend"`

	// LocalDir and LocalURLPrefix configure the "local" backend.
	LocalDir       string `yaml:"local_dir"`
	LocalURLPrefix string `yaml:"local_url_prefix"`

	// Bucket/Container names the cloud backend's storage container.
	Bucket string `yaml:"bucket"`

	// Region is consulted by the "s3" backend.
	Region string `yaml:"region"`

	// S3EndpointURL overrides the resolved S3 endpoint, for S3-compatible
	// object stores (MinIO, on-prem). S3AccessKeyID/S3SecretAccessKey
	// authenticate against it directly instead of the default AWS
	// credential chain; leave them empty to use the default chain.
	S3EndpointURL     string `yaml:"s3_endpoint_url"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`

	// AzureConnectionString authenticates the "azblob" backend.
	AzureConnectionString string `yaml:"azure_connection_string"`

	// GCSSignBy is the service-account email used to sign GCS URLs.
	GCSSignBy string `yaml:"gcs_sign_by"`

	// PresignTTL bounds how long a presigned GET URL remains valid.
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

// DatabaseConfig configures the Postgres persistence layer (C10).
type DatabaseConfig struct {
	DSN                 string `yaml:"dsn"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`
}

// AuthConfig configures the gateway's signed-token authentication (§4.11).
type AuthConfig struct {
	// TokenSecret signs and verifies session tokens. Empty disables auth,
	// which is the default for local/dev deployments.
	TokenSecret string `yaml:"token_secret"`
}

// WebSearchConfig configures the Tier-2 human-gated web-search escalation
// consulted by [qna.Retriever.ApproveToolCall] after explicit approval.
type WebSearchConfig struct {
	// Enabled turns the Tier-2 escalation off entirely; approved proposals
	// then fall back to a refusal answer.
	Enabled bool `yaml:"enabled"`

	// URL is the search endpoint's base URL.
	URL string `yaml:"url"`

	// APIKey authenticates against the search endpoint, sent as a bearer token.
	APIKey string `yaml:"api_key"`

	// Timeout bounds one search request.
	Timeout time.Duration `yaml:"timeout"`
}
