package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := New(CodeNotFound, "action abc")
		assert.Equal(t, "[NOT_FOUND] action abc", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		err := Wrap(CodeStorageUnavailable, "put books", errors.New("disk I/O error"))
		assert.Equal(t, "[STORAGE_UNAVAILABLE] put books: disk I/O error", err.Error())
	})
}

func TestError_IsMatchesByCode(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeFetchFailed, "download b1", cause)

	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrStorageUnavailable))
}

func TestError_IsThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("cache book: %w", Wrap(CodeStorageUnavailable, "put", errors.New("locked")))

	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.Equal(t, CodeStorageUnavailable, CodeOf(err))
	assert.True(t, HasCode(err, CodeStorageUnavailable))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, CodeInvalidInput, CodeOf(Newf(CodeInvalidInput, "priority %d out of range", 11)))
}

func TestHasCode_Nested(t *testing.T) {
	inner := Wrap(CodeSuperseded, "note n1", nil)
	outer := Wrap(CodeDispatchFailed, "dispatch", inner)

	assert.Equal(t, CodeDispatchFailed, CodeOf(outer))
	assert.True(t, HasCode(outer, CodeSuperseded))
	assert.True(t, errors.Is(outer, ErrSuperseded))
}
