package comm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoller(t *testing.T) {
	var calls atomic.Int32
	var p Poller
	require.False(t, p.Running())

	p.Start(t.Context(), 5*time.Millisecond, func(context.Context) { calls.Add(1) })
	require.True(t, p.Running())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	p.Stop()
	require.False(t, p.Running())
	time.Sleep(10 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, stopped, calls.Load())
}
