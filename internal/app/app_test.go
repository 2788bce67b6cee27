package app

import (
	"context"
	"testing"
	"time"

	"github.com/notemesh/realtime-core/internal/config"
	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/stt"
	"github.com/notemesh/realtime-core/pkg/provider/llm"
	llmmock "github.com/notemesh/realtime-core/pkg/provider/llm/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsClosersInReverseOrder(t *testing.T) {
	a := &App{}
	var order []int
	a.closers = []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return nil },
		func() error { order = append(order, 3); return nil },
	}

	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	a := &App{}
	calls := 0
	a.closers = []func() error{func() error { calls++; return nil }}

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	a := &App{}
	ran := false
	a.closers = []func() error{func() error { ran = true; return nil }}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Shutdown(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran, "closer ran after context was already cancelled")
}

func TestInitSTT_DisabledLeavesClientNil(t *testing.T) {
	a := &App{cfg: &config.Config{STT: config.STTConfig{Enabled: false}}}
	a.initSTT()
	assert.Nil(t, a.sttClient)
}

func TestInitSTT_EnabledWrapsFallback(t *testing.T) {
	a := &App{cfg: &config.Config{STT: config.STTConfig{
		Enabled: true,
		URL:     "http://localhost:9000",
		Timeout: 5 * time.Second,
	}}}
	a.initSTT()
	require.NotNil(t, a.sttClient)
	_, ok := a.sttClient.(interface {
		Transcribe(ctx context.Context, sessionID string, rec domain.AudioRecord) stt.Result
	})
	assert.True(t, ok, "sttClient does not satisfy the expected Transcribe shape")
}

func TestBuildWebSearch_DisabledReturnsNil(t *testing.T) {
	a := &App{cfg: &config.Config{WebSearch: config.WebSearchConfig{Enabled: false}}}
	assert.Nil(t, a.buildWebSearch())
}

func TestInitProviders_UsesRegisteredFactory(t *testing.T) {
	want := &llmmock.Provider{}
	reg := config.NewRegistry()
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})

	a := &App{
		cfg:      &config.Config{LLM: config.ProviderEntry{Name: "mock"}},
		registry: reg,
	}
	require.NoError(t, a.initProviders())
	assert.Same(t, want, a.llmProvider)
}

func TestInitProviders_UnregisteredNameErrors(t *testing.T) {
	a := &App{
		cfg:      &config.Config{LLM: config.ProviderEntry{Name: "nonexistent"}},
		registry: config.NewRegistry(),
	}
	assert.Error(t, a.initProviders())
}
