package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdetl/internal/extract"
)

func TestRunLifecycle(t *testing.T) {
	run := NewRun("stock_pipeline", extract.EntityStock, extract.Params{Symbols: []string{"AAPL"}})

	assert.NotEmpty(t, run.ID())
	assert.Equal(t, StatusRunning, run.Status())
	assert.False(t, run.Finalized())

	require.NoError(t, run.Finalize(StatusSuccess, ""))
	assert.Equal(t, StatusSuccess, run.Status())
	assert.True(t, run.Finalized())
}

func TestRunFinalizeIsTerminal(t *testing.T) {
	run := NewRun("stock_pipeline", extract.EntityStock, extract.Params{})
	require.NoError(t, run.Finalize(StatusFailed, "boom"))

	err := run.Finalize(StatusSuccess, "")
	require.Error(t, err, "a terminal run never transitions again")
	assert.Equal(t, StatusFailed, run.Status())
}

func TestRunFinalizeRejectsNonTerminalStatus(t *testing.T) {
	run := NewRun("stock_pipeline", extract.EntityStock, extract.Params{})
	assert.Error(t, run.Finalize(StatusRunning, ""))
	assert.Error(t, run.Finalize(Status("done"), ""))
	assert.False(t, run.Finalized())
}

func TestRunRow(t *testing.T) {
	run := NewRun("forex_pipeline", extract.EntityForex, extract.Params{
		Pairs:    []string{"EUR/USD"},
		Interval: "1day",
	})
	run.setCounts(func(c *Counts) {
		c.Extracted = 3
		c.Standardized = 3
		c.Accepted = 2
		c.Rejected = 1
		c.Loaded = 2
	})
	run.recordPhase(PhaseExtract, 120*time.Millisecond)
	require.NoError(t, run.Finalize(StatusPartialSuccess, "1 rejected"))

	row := run.Row()
	assert.Equal(t, run.ID(), row.RunID)
	assert.Equal(t, "forex_pipeline", row.PipelineName)
	assert.Equal(t, "partial_success", row.Status)
	assert.True(t, row.EndedAt.Valid)
	assert.Equal(t, 3, row.Extracted)
	assert.Equal(t, 2, row.Loaded)
	assert.Equal(t, "1 rejected", row.ErrorMessage.String)

	var params map[string]interface{}
	require.NoError(t, json.Unmarshal(row.Params, &params))
	assert.Equal(t, []interface{}{"EUR/USD"}, params["pairs"])

	var durations map[string]string
	require.NoError(t, json.Unmarshal(row.Durations, &durations))
	assert.Equal(t, "120ms", durations["extract"])
}

func TestRunRowBeforeFinalization(t *testing.T) {
	run := NewRun("stock_pipeline", extract.EntityStock, extract.Params{})
	row := run.Row()
	assert.Equal(t, "running", row.Status)
	assert.False(t, row.EndedAt.Valid)
	assert.False(t, row.ErrorMessage.Valid)
}

func TestTracker(t *testing.T) {
	tracker := NewTracker(2)
	assert.Nil(t, tracker.Latest())

	first := NewRun("a", extract.EntityStock, extract.Params{})
	second := NewRun("b", extract.EntityForex, extract.Params{})
	third := NewRun("c", extract.EntityWeather, extract.Params{})
	tracker.Add(first)
	tracker.Add(second)
	tracker.Add(third)

	assert.Equal(t, third.ID(), tracker.Latest().ID())
	snaps := tracker.Snapshots()
	assert.Len(t, snaps, 2, "oldest run evicted at the limit")
}

func TestSnapshotIsACopy(t *testing.T) {
	run := NewRun("stock_pipeline", extract.EntityStock, extract.Params{})
	run.recordPhase(PhaseExtract, time.Second)

	snap := run.Snapshot()
	snap.Durations[PhaseExtract] = 5 * time.Second
	snap.Counts.Loaded = 99

	assert.Equal(t, time.Second, run.Snapshot().Durations[PhaseExtract])
	assert.Zero(t, run.Counts().Loaded)
}
