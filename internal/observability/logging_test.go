package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{
			name: "json format",
			cfg:  LogConfig{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name: "console format",
			cfg:  LogConfig{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:    "invalid level",
			cfg:     LogConfig{Level: "verbose", Format: "json"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestWithContext(t *testing.T) {
	logger := NopLogger()

	// No request ID returns the same logger.
	same := logger.WithContext(context.Background())
	assert.Equal(t, logger, same)

	ctx := ContextWithRequestID(context.Background(), "req-456")
	enriched := logger.WithContext(ctx)
	assert.NotNil(t, enriched)
}

func TestGlobalLogger(t *testing.T) {
	// Unset global falls back to nop.
	SetGlobalLogger(nil)
	assert.NotNil(t, L())

	logger := NopLogger()
	SetGlobalLogger(logger)
	assert.Equal(t, logger, L())
}
