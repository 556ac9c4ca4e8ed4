package unified

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDecayer struct {
	calls atomic.Int64
}

func (d *countingDecayer) ApplyDecay(context.Context) int {
	d.calls.Add(1)
	return 2
}

func TestMaintainerTicks(t *testing.T) {
	d := &countingDecayer{}
	m := NewMaintainer(d, 10*time.Millisecond, nil)

	m.Start(context.Background())
	m.Start(context.Background()) // second start is a no-op
	require.True(t, m.Running())

	require.Eventually(t, func() bool { return m.Runs() >= 2 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()
	assert.False(t, m.Running())

	runs := m.Runs()
	assert.Equal(t, 2*runs, m.Decayed())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, m.Runs(), "no cycles after Stop")
}

func TestMaintainerDoesNotRunAtStart(t *testing.T) {
	d := &countingDecayer{}
	m := NewMaintainer(d, time.Hour, nil)
	m.Start(context.Background())
	defer m.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, d.calls.Load())
}

func TestMaintainerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMaintainer(&countingDecayer{}, 5*time.Millisecond, nil)
	m.Start(ctx)
	cancel()
	m.Stop()
	assert.False(t, m.Running())
}

func TestMaintainerDisabled(t *testing.T) {
	m := NewMaintainer(&countingDecayer{}, 0, nil)
	m.Start(context.Background())
	assert.False(t, m.Running())
	m.Stop()

	assert.Equal(t, 2, m.RunOnce(context.Background()))
	assert.EqualValues(t, 1, m.Runs())
}
