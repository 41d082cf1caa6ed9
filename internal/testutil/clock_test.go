package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstephq/lockstep/internal/contract"
)

func TestClockSteps(t *testing.T) {
	start := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	clk := NewClock(start, time.Second)

	assert.Equal(t, start, clk.Now())
	assert.Equal(t, start.Add(time.Second), clk.Now())
	assert.Equal(t, start.Add(2*time.Second), clk.Peek())
	assert.Equal(t, start.Add(2*time.Second), clk.Now())
}

func TestFrozenClockNeverAdvances(t *testing.T) {
	clk := FrozenClock()
	first := clk.Now()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, clk.Now())
	}
}

func TestClockConcurrentNowIsMonotonic(t *testing.T) {
	clk := NewClock(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC), time.Millisecond)

	const calls = 100
	times := make([]time.Time, calls)
	var wg sync.WaitGroup
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		go func(i int) {
			defer wg.Done()
			times[i] = clk.Now()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, calls)
	for _, ts := range times {
		require.False(t, seen[ts.UnixNano()], "duplicate instant %s", ts)
		seen[ts.UnixNano()] = true
	}
}

func TestSequentialIDs(t *testing.T) {
	next := SequentialIDs("run")
	assert.Equal(t, "run-0001", next())
	assert.Equal(t, "run-0002", next())

	// Independent generators do not share state.
	other := SequentialIDs("batch")
	assert.Equal(t, "batch-0001", other())
	assert.Equal(t, "run-0003", next())
}

func TestSeriesBuilders(t *testing.T) {
	flat := FlatBars(3, 100)
	require.Len(t, flat, 3)
	assert.Equal(t, Day(0), flat[0].Time)
	assert.True(t, flat[2].Time.After(flat[1].Time))
	assert.True(t, flat[0].Close.Equal(flat[2].Close))

	ramp := RampBars(3, 100, 0.5)
	assert.Equal(t, "100", ramp[0].Close.String())
	assert.Equal(t, "101", ramp[2].Close.String())

	req := Request(contract.Series{"ALPHA": flat}, "ALPHA")
	require.NoError(t, contract.Validate(req))
	assert.Equal(t, "buy_hold", req.Strategy)
}
