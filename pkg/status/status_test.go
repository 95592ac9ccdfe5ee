package status

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warpfork/go-errcat"
)

func TestOfUnwrapsContext(t *testing.T) {
	base := Errorf(Conflict, "ref %s moved", "refs/heads/master")
	wrapped := fmt.Errorf("push master: %w", fmt.Errorf("end push: %w", base))

	assert.Equal(t, Conflict, Of(wrapped))
	assert.True(t, Is(wrapped, Conflict))
	assert.False(t, Is(wrapped, NotFound))
	assert.Equal(t, "ref refs/heads/master moved", Message(wrapped))

	ce, ok := base.(errcat.Error)
	require.True(t, ok)
	assert.Equal(t, Conflict, ce.Category())
}

func TestOfFallbacks(t *testing.T) {
	assert.Equal(t, Code(""), Of(nil))
	assert.Equal(t, Internal, Of(errors.New("boom")))
	assert.Equal(t, Aborted, Of(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, ConnectionError, Of(context.DeadlineExceeded))
	assert.False(t, Is(nil, Internal))
}

func TestDetails(t *testing.T) {
	err := WithDetails(NotFound, "object not found", map[string]string{"id": "abcd"})
	assert.Equal(t, NotFound, Of(err))
	assert.Equal(t, "abcd", Details(fmt.Errorf("get: %w", err))["id"])
	assert.Nil(t, Details(errors.New("plain")))
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, Code("").ExitCode())
	assert.Equal(t, 0, NothingToPush.ExitCode())
	assert.Equal(t, 5, Conflict.ExitCode())
	assert.Equal(t, 254, Internal.ExitCode())
	assert.True(t, HistoryTooShallow.Valid())
	assert.False(t, Code("BOGUS").Valid())
}
