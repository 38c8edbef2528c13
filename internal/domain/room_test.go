package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/domain"
)

func TestNewChatMessageTakesIDOnlyWhenAccepted(t *testing.T) {
	calls := 0
	newID := func() string {
		calls++
		return "id"
	}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := domain.NewChatMessage(newID, "a", "Alice", " \t ", at)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, calls)

	msg, err := domain.NewChatMessage(newID, "a", "Alice", " hi ", at)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "id", msg.ID)
	assert.Equal(t, "hi", msg.Message)
	assert.Equal(t, at.UnixMilli(), msg.Timestamp)
}
