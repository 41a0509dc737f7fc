package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxbrian/surge-qx/internal/errors"
)

func TestNew(t *testing.T) {
	err := errors.New(errors.ErrInvalidInput, "content must be a non-empty string")
	assert.Equal(t, "[INVALID_INPUT] content must be a non-empty string", err.Error())
	assert.Equal(t, errors.ErrInvalidInput, err.Code)
	assert.NotNil(t, err.Details)
}

func TestNewf(t *testing.T) {
	err := errors.Newf(errors.ErrFetch, "status %d", 404)
	assert.Equal(t, "[FETCH] status 404", err.Error())
}

func TestWrap(t *testing.T) {
	base := stderrors.New("invalid URL escape")
	err := errors.Wrap(base, errors.ErrDecode, "failed to decode parameter")

	require.NotNil(t, err)
	assert.Equal(t, "[DECODE] failed to decode parameter: invalid URL escape", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Nil(t, errors.Wrap(nil, errors.ErrDecode, "nothing"))
	assert.Nil(t, errors.Wrapf(nil, errors.ErrDecode, "nothing %d", 1))
}

func TestGetErrorCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", errors.New(errors.ErrHostUnavailable, "no source"))
	assert.Equal(t, errors.ErrHostUnavailable, errors.GetErrorCode(err))
}

func TestGetErrorCodeAndDetails(t *testing.T) {
	err := errors.New(errors.ErrFetch, "download failed").WithDetail("url", "https://example.com/a.list")

	assert.Equal(t, errors.ErrFetch, errors.GetErrorCode(err))
	assert.Equal(t, errors.ErrUnknown, errors.GetErrorCode(stderrors.New("plain")))
	assert.Equal(t, "https://example.com/a.list", errors.GetErrorDetails(err)["url"])
	assert.Nil(t, errors.GetErrorDetails(stderrors.New("plain")))
}
