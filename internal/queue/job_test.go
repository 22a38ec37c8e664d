package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusAvailable, StatusRunning, StatusCompleted, StatusFailed, StatusDiscarded, StatusCancelled} {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestParseStatus_Invalid(t *testing.T) {
	_, err := ParseStatus("bogus")
	require.Error(t, err)
	var target *ParseJobStatusError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "bogus", target.Value)
}

func TestNewJobValidate(t *testing.T) {
	require.NoError(t, NewJob{Target: "https://example.com/hook", MaxAttempts: 5}.validate())

	err := NewJob{MaxAttempts: 5}.validate()
	require.Error(t, err)

	err = NewJob{Target: "https://example.com/hook"}.validate()
	require.Error(t, err)
}
