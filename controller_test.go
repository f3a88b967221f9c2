package quanta

import (
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingModel struct {
	name string
	n    atomic.Int64
}

func (m *countingModel) Name() string { return m.name }

func TestSimulationStepDispatchesDueEvents(t *testing.T) {
	b := NewSimInit()
	m := &countingModel{name: "counter"}
	addr := b.AddModel("counter", m)
	sim := b.Init(Epoch)

	handle := sim.Handle()
	_, err := handle.ScheduleAt(NewSimTime(1, 0), addr, func(ctx Context) {
		m.n.Add(1)
		assert.Equal(t, addr, ctx.Address())
	})
	require.NoError(t, err)

	now, err := sim.Step()
	require.NoError(t, err)
	assert.Equal(t, NewSimTime(1, 0), now)
	assert.EqualValues(t, 1, m.n.Load())
}

func TestSimulationStepUntilAdvancesThroughMultipleDeadlines(t *testing.T) {
	b := NewSimInit()
	m := &countingModel{name: "counter"}
	addr := b.AddModel("counter", m)
	sim := b.Init(Epoch)

	handle := sim.Handle()
	for i := int64(1); i <= 5; i++ {
		_, err := handle.ScheduleAt(NewSimTime(i, 0), addr, func(ctx Context) {
			m.n.Add(1)
		})
		require.NoError(t, err)
	}

	now, err := sim.StepUntil(NewSimTime(10, 0))
	require.NoError(t, err)
	assert.Equal(t, NewSimTime(10, 0), now)
	assert.EqualValues(t, 5, m.n.Load())
}

func TestSimulationChainedSameInstantScheduling(t *testing.T) {
	b := NewSimInit()
	m := &countingModel{name: "chain"}
	addr := b.AddModel("chain", m)
	sim := b.Init(Epoch)

	var schedule func(ctx Context, depth int)
	schedule = func(ctx Context, depth int) {
		m.n.Add(1)
		if depth > 0 {
			_, _ = ctx.ScheduleIn(0, func(ctx Context) {
				schedule(ctx, depth-1)
			})
		}
	}

	handle := sim.Handle()
	_, err := handle.ScheduleAt(NewSimTime(1, 0), addr, func(ctx Context) {
		schedule(ctx, 4)
	})
	require.NoError(t, err)

	_, err = sim.Step()
	require.NoError(t, err)
	assert.EqualValues(t, 5, m.n.Load())
}

func TestSimulationHaltStopsFurtherSteps(t *testing.T) {
	b := NewSimInit()
	m := &countingModel{name: "halter"}
	b.AddModel("halter", m)
	sim := b.Init(Epoch)

	sim.Halt()

	_, err := sim.Step()
	require.Error(t, err)

	var simErr *Error
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, KindHalted, simErr.Kind)
}

func TestSimulationCausalityCycleIsBounded(t *testing.T) {
	b := NewSimInit()
	b.SetMaxSameInstantIterations(5)
	m := &countingModel{name: "looper"}
	addr := b.AddModel("looper", m)
	sim := b.Init(Epoch)

	var loop func(ctx Context)
	loop = func(ctx Context) {
		m.n.Add(1)
		_, _ = ctx.ScheduleIn(0, loop)
	}

	handle := sim.Handle()
	_, err := handle.ScheduleAt(NewSimTime(1, 0), addr, loop)
	require.NoError(t, err)

	_, err = sim.Step()
	require.Error(t, err)

	var simErr *Error
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, KindCausalityCycle, simErr.Kind)
}

func TestSimulationSendBetweenModels(t *testing.T) {
	b := NewSimInit()
	producer := &countingModel{name: "producer"}
	consumer := &countingModel{name: "consumer"}
	producerAddr := b.AddModel("producer", producer)
	consumerAddr := b.AddModel("consumer", consumer)
	sim := b.Init(Epoch)

	handle := sim.Handle()
	_, err := handle.ScheduleAt(NewSimTime(1, 0), producerAddr, func(ctx Context) {
		err := ctx.Send(consumerAddr, func(ctx Context) {
			consumer.n.Add(1)
		})
		require.NoError(t, err)
	})
	require.NoError(t, err)

	_, err = sim.Step()
	require.NoError(t, err)

	sim.executor.WaitQuiescent()
	assert.EqualValues(t, 1, consumer.n.Load())
}

func TestSimulationStepReportsTimeoutWhenAHandlerOverrunsTheBudget(t *testing.T) {
	b := NewSimInit()
	b.SetTimeout(Duration(20 * time.Millisecond))
	m := &countingModel{name: "slow"}
	addr := b.AddModel("slow", m)
	sim := b.Init(Epoch)

	handle := sim.Handle()
	_, err := handle.ScheduleAt(NewSimTime(1, 0), addr, func(ctx Context) {
		time.Sleep(200 * time.Millisecond)
		m.n.Add(1)
	})
	require.NoError(t, err)

	_, err = sim.Step()
	require.Error(t, err)

	var simErr *Error
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, KindTimeout, simErr.Kind)

	halted, _ := sim.Halted()
	assert.True(t, halted)
}

func TestNextIDDefaultsToSequential(t *testing.T) {
	b := NewSimInit()
	sim := b.Init(Epoch)
	defer sim.Shutdown()

	assert.Equal(t, "1", sim.NextID())
	assert.Equal(t, "2", sim.NextID())
}

func TestNextIDUsesConfiguredGenerator(t *testing.T) {
	b := NewSimInit()
	b.SetIDGenerator(NewDistributedIDGenerator())
	sim := b.Init(Epoch)
	defer sim.Shutdown()

	id := sim.NextID()
	assert.Len(t, id, 20)
	assert.NotEqual(t, "1", id)
}

func TestSimulationNoRecipientError(t *testing.T) {
	b := NewSimInit()
	sim := b.Init(Epoch)

	err := sim.Handle().Send(Address{name: "missing"}, func(ctx Context) {})
	require.Error(t, err)

	var simErr *Error
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, KindNoRecipient, simErr.Kind)
}

// TestTimeIsMonotonicAcrossSteps is a property test for invariant 1:
// for any two successive observations of Time, the later is never
// before the earlier.
func TestTimeIsMonotonicAcrossSteps(t *testing.T) {
	b := NewSimInit()
	m := &countingModel{name: "ticker"}
	addr := b.AddModel("ticker", m)
	sim := b.Init(Epoch)
	defer sim.Shutdown()

	handle := sim.Handle()
	for i := int64(1); i <= 5; i++ {
		_, err := handle.ScheduleAt(NewSimTime(i, 0), addr, func(ctx Context) {})
		require.NoError(t, err)
	}

	last := sim.Time()
	for i := 0; i < 5; i++ {
		_, err := sim.Step()
		require.NoError(t, err)

		now := sim.Time()
		assert.False(t, now.Before(last), "time moved backward: %v before %v", now, last)
		last = now
	}
}

// exclusivityModel records the highest number of its own handlers it has
// ever seen running at once.
type exclusivityModel struct {
	name    string
	running atomic.Int32
	maxSeen atomic.Int32
}

func (m *exclusivityModel) Name() string { return m.name }

func (m *exclusivityModel) handle(ctx Context) {
	n := m.running.Add(1)
	for {
		prev := m.maxSeen.Load()
		if n <= prev || m.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	m.running.Add(-1)
}

// TestAtMostOneHandlerPerModelRunsAtATime is a property test for
// invariant 2: across many workers and many events targeting the same
// model at the same instant, the model's own running-handler counter
// must never be observed above 1.
func TestAtMostOneHandlerPerModelRunsAtATime(t *testing.T) {
	b := NewSimInit()
	b.SetWorkers(8)
	target := &exclusivityModel{name: "target"}
	targetAddr := b.AddModel("target", target)
	sim := b.Init(Epoch)
	defer sim.Shutdown()

	handle := sim.Handle()
	for i := 0; i < 20; i++ {
		_, err := handle.ScheduleAt(NewSimTime(1, 0), targetAddr, target.handle)
		require.NoError(t, err)
	}

	_, err := sim.Step()
	require.NoError(t, err)
	sim.executor.WaitQuiescent()

	assert.LessOrEqual(t, target.maxSeen.Load(), int32(1))
}

// TestStepLeavesNoEarlierDeadlinePending is a property test for
// invariant 3: once Step returns having advanced to T, the scheduler's
// next pending deadline is either empty or strictly after T, meaning
// the same-instant chain at T fully drained before Step returned.
func TestStepLeavesNoEarlierDeadlinePending(t *testing.T) {
	b := NewSimInit()
	m := &countingModel{name: "chain"}
	addr := b.AddModel("chain", m)
	sim := b.Init(Epoch)
	defer sim.Shutdown()

	var schedule func(ctx Context, depth int)
	schedule = func(ctx Context, depth int) {
		m.n.Add(1)
		if depth > 0 {
			_, _ = ctx.ScheduleIn(0, func(ctx Context) {
				schedule(ctx, depth-1)
			})
		}
	}

	handle := sim.Handle()
	_, err := handle.ScheduleAt(NewSimTime(1, 0), addr, func(ctx Context) {
		schedule(ctx, 3)
	})
	require.NoError(t, err)
	_, err = handle.ScheduleAt(NewSimTime(5, 0), addr, func(ctx Context) {})
	require.NoError(t, err)

	now, err := sim.Step()
	require.NoError(t, err)
	assert.Equal(t, NewSimTime(1, 0), now)

	next, ok := sim.scheduler.PeekNextDeadline()
	require.True(t, ok)
	assert.True(t, next.After(now), "pending deadline %v not after step time %v", next, now)
}

// runEffectsScenario fans ten producers out into a shared sink at the
// same deadline and returns the sorted multiset of delivered values.
func runEffectsScenario(workers int) []int {
	b := NewSimInit()
	b.SetWorkers(workers)

	var addrs []Address
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("p%d", i)
		addrs = append(addrs, b.AddModel(name, &countingModel{name: name}))
	}

	out := NewOutput[int]("values")
	sink := NewCollectingSink[int]()
	out.Connect(sink)

	sim := b.Init(Epoch)
	defer sim.Shutdown()

	handle := sim.Handle()
	for i, addr := range addrs {
		v := i
		_, _ = handle.ScheduleAt(NewSimTime(1, 0), addr, func(ctx Context) {
			out.Emit(ctx.Now(), v)
		})
	}

	_, _ = sim.Step()
	sim.executor.WaitQuiescent()

	values := make([]int, 0, len(addrs))
	for _, r := range sink.Records() {
		values = append(values, r.Value)
	}
	sort.Ints(values)
	return values
}

// TestEffectsAtATimeAreDeterministicRegardlessOfWorkerCount is a
// property test for invariant 4: the multiset of values delivered to a
// sink at a given time depends only on what was scheduled to fire by
// that time, not on how many executor workers happened to run it.
func TestEffectsAtATimeAreDeterministicRegardlessOfWorkerCount(t *testing.T) {
	low := runEffectsScenario(1)
	high := runEffectsScenario(8)

	assert.Equal(t, low, high)
}
