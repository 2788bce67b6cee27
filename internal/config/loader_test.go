package config_test

import (
	"strings"
	"testing"

	"github.com/notemesh/realtime-core/internal/config"
)

func TestValidate_GCSMissingBucket(t *testing.T) {
	t.Parallel()
	yaml := `
object_store:
  backend: gcs
database:
  dsn: postgres://localhost/db
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for gcs backend missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("error should mention bucket, got: %v", err)
	}
}

func TestValidate_AzureMissingConnectionString(t *testing.T) {
	t.Parallel()
	yaml := `
object_store:
  backend: azblob
  bucket: frames
database:
  dsn: postgres://localhost/db
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for azblob backend missing connection string")
	}
}

func TestValidate_SSIMThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
video:
  ssim_threshold: 1.5
database:
  dsn: postgres://localhost/db
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range ssim_threshold")
	}
}

func TestValidate_MultipleErrorsAreJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
object_store:
  backend: nope
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "backend") {
		t.Errorf("expected both log_level and backend errors joined, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames["llm"] should contain "openai"`)
	}
}

func TestValidObjectStoreBackends(t *testing.T) {
	t.Parallel()
	found := false
	for _, b := range config.ValidObjectStoreBackends {
		if b == "local" {
			found = true
		}
	}
	if !found {
		t.Error(`ValidObjectStoreBackends should contain "local"`)
	}
}
