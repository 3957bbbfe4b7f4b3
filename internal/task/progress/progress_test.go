package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	started, finished bool
	c                 Counters
}

func (f fakeSource) Started() bool      { return f.started }
func (f fakeSource) Finished() bool     { return f.finished }
func (f fakeSource) Running() bool      { return f.started && !f.finished }
func (f fakeSource) Progress() Counters { return f.c }

func TestCountersArithmetic(t *testing.T) {
	c := Counters{Dispatched: 10, Completed: 6, Failed: 1}
	assert.EqualValues(t, 7, c.Done())
	assert.EqualValues(t, 3, c.Pending())
	assert.InDelta(t, 0.7, c.Ratio(), 1e-9)
	assert.True(t, c.Valid())
	assert.False(t, Counters{Dispatched: 1, Completed: 1, Failed: 1}.Valid())
	assert.Equal(t, 1.0, Counters{}.Ratio())
	assert.Zero(t, Counters{Dispatched: 1, Completed: 2}.Pending())
}

func TestCountersString(t *testing.T) {
	assert.Equal(t, "1,200 / 3,400 done", Counters{Dispatched: 3400, Completed: 1000, Failed: 200}.String())
}

func TestSum(t *testing.T) {
	a := Sum(
		fakeSource{started: true, c: Counters{Dispatched: 4, Completed: 1}},
		fakeSource{started: true, finished: true, c: Counters{Dispatched: 2, Completed: 1, Failed: 1}},
		fakeSource{finished: true},
	)
	assert.Equal(t, 3, a.Workers)
	assert.Equal(t, 2, a.Started)
	assert.Equal(t, 1, a.Running)
	assert.Equal(t, 2, a.Finished)
	assert.Equal(t, Counters{Dispatched: 6, Completed: 2, Failed: 1}, a.Counters)
	assert.Equal(t, "50%", a.Percent())
	assert.Equal(t, "3 / 6 done (1 failed), 1/3 workers running", a.String())
}
