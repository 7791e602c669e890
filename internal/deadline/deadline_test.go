package deadline_test

import (
	"errors"
	"testing"
	"time"

	"catdb/internal/deadline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReturnsValue(t *testing.T) {
	v, err := deadline.Run(time.Second, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRun_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := deadline.Run(time.Second, func() (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRun_TimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	v, err := deadline.Run(20*time.Millisecond, func() (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, deadline.ErrTimeout)
	assert.Empty(t, v, "timed-out call must return the zero value")
}
