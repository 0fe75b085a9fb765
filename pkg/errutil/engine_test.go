package errutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngineErrorClassification(t *testing.T) {
	err := RowError(ReasonDuplicateOrder, "order 123 already counted")
	wrapped := fmt.Errorf("row 4: %w", err)

	require.Equal(t, KindRow, KindOf(wrapped))
	require.Equal(t, ReasonDuplicateOrder, ReasonOf(wrapped))
	require.True(t, IsKind(wrapped, KindRow))
	require.False(t, IsKind(wrapped, KindConfiguration))
	require.Equal(t, "order 123 already counted", MessageOf(wrapped))

	var be BaseError
	require.True(t, errors.As(wrapped, &be))
	require.Equal(t, StatusValidationFailed, be.Status())
}

func TestConfigurationErrorKeepsCause(t *testing.T) {
	cause := errors.New("missing closing )")
	err := ConfigurationError(ReasonInvalidRule, "invalid regex", WithErr(cause))

	require.ErrorIs(t, err, cause)
	require.Equal(t, KindConfiguration, KindOf(err))
	require.Contains(t, err.Error(), "invalid regex: missing closing )")
}

func TestPlainErrorsHaveNoKind(t *testing.T) {
	err := errors.New("boom")
	require.Equal(t, Kind(""), KindOf(err))
	require.Equal(t, Reason(""), ReasonOf(err))
	require.Equal(t, "boom", MessageOf(err))
	require.False(t, IsKind(nil, KindState))
}

func TestNotFoundWrapsCause(t *testing.T) {
	cause := errors.New("record not found")
	err := NotFound("campaign not found", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, StatusNotFound, StatusOf(fmt.Errorf("load: %w", err)))
	require.Equal(t, CoreStatus(""), StatusOf(cause))
	require.Equal(t, "[NOT_FOUND] campaign not found: record not found", err.Error())
}
