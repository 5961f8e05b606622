package tui

import (
	"testing"

	"github.com/jrwynneiii/railtuner/config"
	"github.com/jrwynneiii/railtuner/sequencer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoardApply(t *testing.T) {
	b := &Board{}
	b.Apply(sequencer.Event{RunID: "a", Sweep: "sensitivity", Frequency: 915e6, X: -100, Y: 0})
	b.Apply(sequencer.Event{RunID: "a", Sweep: "sensitivity", Frequency: 915e6, X: -105, Y: 42})
	assert.Equal(t, []float64{0, 42}, b.Trace())
	assert.Equal(t, 42.0, b.ErrorRate())

	b.Apply(sequencer.Event{RunID: "a", Sweep: "sensitivity", Frequency: 915e6, X: -105, Done: true})
	require.Len(t, b.Results(), 1)
	assert.Equal(t, Result{RunID: "a", Sweep: "sensitivity", Frequency: 915e6, Value: -105}, b.Results()[0])

	// A new run starts a fresh trace but keeps earlier results.
	b.Apply(sequencer.Event{RunID: "b", Sweep: "ctune", Frequency: 2440e6, X: 17, Y: -3000})
	assert.Equal(t, []float64{-3000}, b.Trace())
	assert.Zero(t, b.ErrorRate())
	assert.Len(t, b.Results(), 1)
}

func TestBoardTraceIsBounded(t *testing.T) {
	b := &Board{}
	for i := range maxTrace + 10 {
		b.Apply(sequencer.Event{RunID: "a", Sweep: "rssisweep", Y: float64(i)})
	}
	trace := b.Trace()
	assert.Len(t, trace, maxTrace)
	assert.Equal(t, 10.0, trace[0])
}

func TestTables(t *testing.T) {
	b := &Board{}
	run := &RunTableData{board: b}
	assert.Equal(t, "idle", run.GetCell(0, 1).Text)

	b.Apply(sequencer.Event{RunID: "r1", Sweep: "blocking", Frequency: 868.3e6, X: -40, Y: 12.5})
	assert.Equal(t, "r1", run.GetCell(0, 1).Text)
	assert.Equal(t, "868.300 MHz", run.GetCell(2, 1).Text)
	assert.Equal(t, "1", run.GetCell(3, 1).Text)
	assert.Equal(t, "ERROR", run.GetCell(9, 0).Text)

	results := &ResultTableData{board: b}
	assert.Equal(t, 1, results.GetRowCount())
	b.Apply(sequencer.Event{RunID: "r1", Sweep: "blocking", Frequency: 870.3e6, X: -41, Done: true})
	b.Apply(sequencer.Event{RunID: "r2", Sweep: "ctune", Frequency: 2440e6, X: 128, Done: true})
	assert.Equal(t, 3, results.GetRowCount())
	assert.Equal(t, "[green]-41.0 dBm", results.GetCell(1, 2).Text)
	assert.Equal(t, "[green]128", results.GetCell(2, 2).Text)
}

func TestObserveNeverBlocks(t *testing.T) {
	m := New(config.MonitorConf{})
	for range cap(m.events) + 5 {
		m.Observe(sequencer.Event{RunID: "a"})
	}
	assert.Len(t, m.events, cap(m.events))
	m.Stop()
	m.Stop()
	assert.NoError(t, m.Run())
}
