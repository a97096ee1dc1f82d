package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesCategoryAndSeverity(t *testing.T) {
	err := New(ErrCodeDimensionMismatch, "dim mismatch", nil)
	assert.Equal(t, CategoryIntegrity, err.Category)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.False(t, err.Retryable)
}

func TestRetryableCodesDeriveSeverityFromCategory(t *testing.T) {
	err := New(ErrCodeStorageIO, "disk busy", nil)
	assert.True(t, err.Retryable)
	assert.Equal(t, SeverityError, err.Severity)

	tierErr := New(ErrCodeGraphUnavailable, "graph empty", nil)
	assert.True(t, tierErr.Retryable)
	assert.Equal(t, SeverityWarning, tierErr.Severity)
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	sentinel := New(ErrCodeEmptyQuery, "empty", nil)
	wrapped := fmtWrap(sentinel)
	require.True(t, errors.Is(wrapped, sentinel))
}

func TestWithDetailAndTrace(t *testing.T) {
	err := New(ErrCodeStorageIO, "io", nil).WithDetail("path", "/tmp/x").WithTrace("trace-1")
	assert.Equal(t, "/tmp/x", err.Details["path"])
	assert.Equal(t, "trace-1", err.TraceID)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func fmtWrap(err error) error {
	return errors.Join(err)
}
