package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded (tunables read by already-running components
// on their next tick) are tracked; anything that would require
// reconstructing a provider or store connection is out of scope.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     string

	VideoChanged bool
	NewVideo     VideoConfig

	WindowChanged bool
	NewWindow     WindowConfig

	LLMChanged      bool
	EmbeddingsChanged bool
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Video != new.Video {
		d.VideoChanged = true
		d.NewVideo = new.Video
	}
	if old.Window != new.Window {
		d.WindowChanged = true
		d.NewWindow = new.Window
	}
	if providerEntryChanged(old.LLM, new.LLM) {
		d.LLMChanged = true
	}
	if providerEntryChanged(old.Embeddings, new.Embeddings) {
		d.EmbeddingsChanged = true
	}

	return d
}

// providerEntryChanged compares the scalar fields of a ProviderEntry,
// ignoring Options (a map, and not meaningfully diffable field-by-field).
func providerEntryChanged(old, new ProviderEntry) bool {
	return old.Name != new.Name || old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL || old.Model != new.Model || old.Backend != new.Backend
}
