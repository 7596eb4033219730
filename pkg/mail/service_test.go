package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailtmpl/mailtmpl/pkg/config"
)

func TestServiceStartWithoutHost(t *testing.T) {
	svc := NewService(config.Config{}, zap.NewNop().Sugar())

	err := svc.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, svc.IsEnabled())
	assert.Nil(t, svc.Sender())
}

func TestServiceStartAndStop(t *testing.T) {
	cfg := config.Config{}
	cfg.Mail.Host = "smtp.example.com"
	cfg.Mail.Port = 587

	svc := NewService(cfg, zap.NewNop().Sugar())
	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.IsEnabled())
	require.NotNil(t, svc.Sender())
	assert.Equal(t, "smtp.example.com", svc.Sender().GetHost())

	assert.NoError(t, svc.Stop(context.Background()))
	assert.False(t, svc.IsEnabled())
}

func TestServiceEnqueueBeforeStart(t *testing.T) {
	svc := NewService(config.Config{}, zap.NewNop().Sugar())

	_, err := svc.Enqueue(queueTestMessage(t))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestServiceEnqueue(t *testing.T) {
	cfg := config.Config{}
	cfg.Mail.Host = "smtp.example.com"
	// Long backoff keeps the worker from hammering the unreachable host
	// while the test runs.
	cfg.Mail.RetryBackoffMs = 60000

	svc := NewService(cfg, zap.NewNop().Sugar())
	require.NoError(t, svc.Start(context.Background()))
	defer func() {
		_ = svc.Stop(context.Background())
	}()

	id, err := svc.Enqueue(queueTestMessage(t))
	assert.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestServiceReloadSwapsSender(t *testing.T) {
	cfg := config.Config{}
	cfg.Mail.Host = "old.example.com"

	svc := NewService(cfg, zap.NewNop().Sugar())
	require.NoError(t, svc.Start(context.Background()))

	cfg.Mail.Host = "new.example.com"
	require.NoError(t, svc.Reload(context.Background(), cfg))
	defer func() {
		_ = svc.Stop(context.Background())
	}()

	assert.Equal(t, "new.example.com", svc.Sender().GetHost())
	assert.True(t, svc.IsEnabled())
}

func TestServiceStopIsIdempotent(t *testing.T) {
	svc := NewService(config.Config{}, zap.NewNop().Sugar())
	assert.NoError(t, svc.Stop(context.Background()))
	assert.NoError(t, svc.Stop(context.Background()))
}
