package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"lv-margin/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnlyOnUpstreamUnavailable(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesAndGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return fmt.Errorf("serialization failure: %w", types.ErrUpstreamUnavailable)
	})
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetryRecoversMidway(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return types.ErrUpstreamUnavailable
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}
