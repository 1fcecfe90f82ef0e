package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStepForCapsAtLastEntry(t *testing.T) {
	require.Equal(t, Schedule[0], StepFor(0))
	require.Equal(t, Schedule[len(Schedule)-1], StepFor(len(Schedule)-1))
	require.Equal(t, Schedule[len(Schedule)-1], StepFor(len(Schedule)+50))
	require.Equal(t, Schedule[0], StepFor(-1))
}

func TestLimiterAllowsFirstAttempt(t *testing.T) {
	l := NewLimiter()
	require.True(t, l.Allow("proc-a"))
}

func TestLimiterBlocksUntilBackoffElapses(t *testing.T) {
	l := NewLimiter()
	l.RecordFailure("proc-a")
	require.False(t, l.Allow("proc-a"))
	require.Equal(t, 1, l.Failures("proc-a"))
}

func TestLimiterResetClearsHistory(t *testing.T) {
	l := NewLimiter()
	l.RecordFailure("proc-a")
	l.Reset("proc-a")
	require.True(t, l.Allow("proc-a"))
	require.Equal(t, 0, l.Failures("proc-a"))
}

func TestLimiterTracksKeysIndependently(t *testing.T) {
	l := NewLimiter()
	l.RecordFailure("proc-a")
	require.True(t, l.Allow("proc-b"))
	require.False(t, l.Allow("proc-a"))
	_ = time.Millisecond
}
