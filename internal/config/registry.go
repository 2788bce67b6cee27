package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/notemesh/realtime-core/internal/objectstore"
	"github.com/notemesh/realtime-core/pkg/provider/embeddings"
	"github.com/notemesh/realtime-core/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pluggable backend. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name. Subsequent
// calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// NewObjectStore constructs the configured objectstore.Store backend. This
// one is not pluggable via the Registry since its four implementations are
// fixed and selected by ObjectStoreConfig.Backend rather than an
// open-ended provider name (§4.6).
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Backend {
	case "", "local":
		return objectstore.NewLocal(cfg.LocalDir, cfg.LocalURLPrefix), nil
	case "s3":
		return objectstore.NewS3(ctx, cfg.Bucket, cfg.Region, cfg.S3EndpointURL, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.PresignTTL)
	case "gcs":
		return objectstore.NewGCS(ctx, cfg.Bucket, cfg.GCSSignBy, cfg.PresignTTL)
	case "azblob":
		return objectstore.NewAzureBlob(cfg.AzureConnectionString, cfg.Bucket, cfg.PresignTTL)
	default:
		return nil, fmt.Errorf("config: unknown object_store.backend %q", cfg.Backend)
	}
}
