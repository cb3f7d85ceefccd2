package clocksync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSupervisorDisabledWithZeroHoldover(t *testing.T) {
	s := New(func() (bool, error) { return false, nil }, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
}

func TestSupervisorResetsOnFix(t *testing.T) {
	s := New(func() (bool, error) { return true, nil }, time.Hour)
	s.HalfInterval = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	require.Equal(t, 0, s.ChecksWithoutFix())
}

func TestSupervisorFatalAfterHoldoverExceeded(t *testing.T) {
	s := New(func() (bool, error) { return false, nil }, 3*time.Millisecond)
	s.HalfInterval = time.Millisecond

	fired := make(chan error, 1)
	s.OnFatal = func(err error) { fired <- err }

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	select {
	case err := <-fired:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("OnFatal was never called")
	}
}
