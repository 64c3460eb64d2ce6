package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	cfg := NewConfigError("PHASE_1.dailyLossLimit.percentOfStartingBalance", -5.0, "must not be negative")
	data := NewDataError("startingBalance", 0.0, "must be positive")

	assert.True(t, errors.Is(cfg, ErrConfigInvalid))
	assert.False(t, errors.Is(cfg, ErrInvalidData))
	assert.True(t, errors.Is(data, ErrInvalidData))
	assert.False(t, errors.Is(data, ErrConfigInvalid))

	wrapped := Wrap(data, "evaluate account 1001")
	assert.True(t, IsData(wrapped))
	assert.False(t, IsConfig(wrapped))

	var de *DataError
	assert.True(t, As(wrapped, &de))
	assert.Equal(t, "startingBalance", de.Field)
}

func TestRiskError(t *testing.T) {
	err := NewRiskError("TRUE_SAFE_CAPACITY", 0, 500, "capacity exhausted")
	assert.True(t, Is(err, ErrRiskLimit))
	assert.Contains(t, err.Error(), "TRUE_SAFE_CAPACITY")
	assert.Contains(t, err.Error(), "limit: 500.00")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.EqualError(t, Wrapf(ErrAccountNotFound, "account %s", "A1"), "account A1: account not found")
}
