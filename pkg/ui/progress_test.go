package ui

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRenderer keeps every value it was asked to draw
type recordingRenderer struct {
	max      int
	label    string
	values   []int
	finished int
}

func (r *recordingRenderer) Start(max int, label string) { r.max, r.label = max, label }
func (r *recordingRenderer) Set(v int)                   { r.values = append(r.values, v) }
func (r *recordingRenderer) Finish()                     { r.finished++ }

func TestTracker_ApportionsFractionalProgress(t *testing.T) {
	rec := &recordingRenderer{}
	tr := NewTracker(rec)
	tr.Initialize(10, "durov")

	// one item expanded into three tasks
	for i := 0; i < 3; i++ {
		tr.Advance(1.0 / 3.0)
	}

	assert.Equal(t, 1, tr.Value())
	assert.Equal(t, []int{1}, rec.values)
	assert.Equal(t, "durov", rec.label)
}

func TestTracker_RandomBatchesSumToItemCount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		items := 1 + rng.Intn(100)
		tasks := 1 + rng.Intn(300)

		tr := NewTracker(nil)
		tr.Initialize(1000, "x")

		prev := 0
		delta := float64(items) / float64(tasks)
		for i := 0; i < tasks; i++ {
			tr.Advance(delta)
			v := tr.Value()
			require.GreaterOrEqual(t, v, prev, "progress must not decrease")
			prev = v
		}
		assert.Equal(t, items, tr.Value(), "items=%d tasks=%d", items, tasks)
	}
}

func TestTracker_ConcurrentAdvance(t *testing.T) {
	tr := NewTracker(nil)
	tr.Initialize(100, "x")

	const tasks = 70
	const items = 50
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Advance(float64(items) / float64(tasks))
		}()
	}
	wg.Wait()

	assert.Equal(t, items, tr.Value())
}

func TestTracker_ClampsToMax(t *testing.T) {
	rec := &recordingRenderer{}
	tr := NewTracker(rec)
	tr.Initialize(5, "x")

	tr.Advance(7)
	assert.Equal(t, 5, tr.Value())

	tr.Settle(9)
	assert.Equal(t, 5, tr.Value())
	assert.Equal(t, []int{5}, rec.values)
}

func TestTracker_SettleNeverLowers(t *testing.T) {
	tr := NewTracker(nil)
	tr.Initialize(100, "x")

	tr.Settle(50)
	assert.Equal(t, 50, tr.Value())

	tr.Settle(20)
	assert.Equal(t, 50, tr.Value())

	// accumulation continues from the settled value
	tr.Advance(0.5)
	tr.Advance(0.5)
	assert.Equal(t, 51, tr.Value())
}

func TestTracker_IgnoresNonPositiveDelta(t *testing.T) {
	tr := NewTracker(nil)
	tr.Initialize(10, "x")
	tr.Advance(3)
	tr.Advance(-2)
	tr.Advance(0)
	assert.Equal(t, 3, tr.Value())
}

func TestTracker_UnknownMax(t *testing.T) {
	tr := NewTracker(nil)
	tr.Initialize(UnknownMax, "c7")

	tr.Advance(12)
	assert.Equal(t, 12, tr.Value())

	max, known := tr.Max()
	assert.False(t, known)
	assert.Equal(t, UnknownMax, max)

	tr.Finalize()
	assert.Equal(t, 12, tr.Value())
}

func TestTracker_FinalizeMovesToMaxOnce(t *testing.T) {
	rec := &recordingRenderer{}
	tr := NewTracker(rec)
	tr.Initialize(120, "durov")
	tr.Settle(100)

	tr.Finalize()
	tr.Finalize()

	assert.Equal(t, 120, tr.Value())
	assert.Equal(t, 1, rec.finished)
	assert.Equal(t, []int{100, 120}, rec.values)
}

func TestTracker_ZeroTotal(t *testing.T) {
	tr := NewTracker(nil)
	tr.Initialize(0, "empty")
	tr.Advance(1)
	assert.Equal(t, 0, tr.Value())
	tr.Finalize()
	assert.Equal(t, 0, tr.Value())
}

func TestBarRenderer(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker(NewBarRenderer(&buf))

	tr.Initialize(4, "durov")
	tr.Advance(2)
	tr.Finalize()

	out := buf.String()
	assert.Contains(t, out, "[durov]")
	assert.Contains(t, out, "4/4")
}
