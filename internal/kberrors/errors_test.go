package kberrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesClassification(t *testing.T) {
	tests := []struct {
		code      string
		kind      Kind
		retryable bool
	}{
		{CodeConfigInvalid, KindConfig, false},
		{CodeDimensionMismatch, KindConfig, false},
		{CodeStorage, KindStorage, true},
		{CodeDB, KindStorage, false},
		{CodeVector, KindStorage, false},
		{CodeProviderUnavailable, KindProvider, true},
		{CodeProviderBusy, KindProvider, false},
		{CodeProviderBadResponse, KindProvider, false},
		{CodeValidation, KindRequest, false},
		{CodeNotFound, KindRequest, false},
		{CodeForbidden, KindRequest, false},
		{CodePrecondition, KindRequest, false},
		{CodeInternal, KindInternal, false},
		{CodeConversionFailed, KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestErrorFormat(t *testing.T) {
	err := New(CodeNotFound, "document 7 not found", nil)
	assert.Equal(t, "[ERR_402_NOT_FOUND] document 7 not found", err.Error())
}

func TestWrapPreservesExistingCode(t *testing.T) {
	inner := NotFound("document %d not found", 42)
	wrapped := Wrap(CodeDB, fmt.Errorf("lookup: %w", inner))
	assert.Equal(t, CodeNotFound, wrapped.Code)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeDB, nil))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("gone"))
	assert.True(t, errors.Is(err, New(CodeNotFound, "", nil)))
	assert.False(t, errors.Is(err, New(CodeForbidden, "", nil)))
}

func TestGetCodeThroughChain(t *testing.T) {
	err := fmt.Errorf("layer: %w", Precondition("not reviewable"))
	assert.Equal(t, CodePrecondition, GetCode(err))
	assert.Equal(t, KindRequest, GetKind(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(CodeDimensionMismatch, "dim", nil)))
	assert.False(t, IsFatal(New(CodeDB, "db", nil)))
	assert.False(t, IsFatal(nil))
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return Validation("bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CodeValidation, GetCode(err))
}

func TestRetryRecoversTransient(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	result, err := RetryWithResult(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", New(CodeProviderUnavailable, "embedder down", nil)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return New(CodeStorage, "minio flake", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return New(CodeStorage, "flake", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}
