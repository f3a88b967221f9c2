package quanta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFanOutInConnectionOrder(t *testing.T) {
	out := NewOutput[int]("values")

	var order []string
	out.ConnectFunc(func(now SimTime, v int) { order = append(order, "a") })
	out.ConnectFunc(func(now SimTime, v int) { order = append(order, "b") })
	out.ConnectFunc(func(now SimTime, v int) { order = append(order, "c") })

	out.Emit(NewSimTime(1, 0), 42)

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestCollectingSinkRecordsArrivalOrder(t *testing.T) {
	out := NewOutput[string]("events")
	sink := NewCollectingSink[string]()
	out.Connect(sink)

	out.Emit(NewSimTime(1, 0), "first")
	out.Emit(NewSimTime(2, 0), "second")

	records := sink.Records()
	assert.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Value)
	assert.Equal(t, NewSimTime(2, 0), records[1].At)
}

func TestOutputConnectPortChainsEmission(t *testing.T) {
	stage1 := NewOutput[int]("stage1")
	stage2 := NewOutput[int]("stage2")
	sink := NewCollectingSink[int]()

	stage1.ConnectPort(stage2)
	stage2.Connect(sink)

	stage1.Emit(NewSimTime(1, 0), 7)

	records := sink.Records()
	assert.Len(t, records, 1)
	assert.Equal(t, 7, records[0].Value)
}

func TestConnectMapTranslatesValue(t *testing.T) {
	out := NewOutput[int]("values")
	sink := NewCollectingSink[string]()

	ConnectMap(out, sink, func(v int) string {
		if v%2 == 0 {
			return "even"
		}
		return "odd"
	})

	out.Emit(NewSimTime(1, 0), 4)
	out.Emit(NewSimTime(2, 0), 7)

	records := sink.Records()
	assert.Len(t, records, 2)
	assert.Equal(t, "even", records[0].Value)
	assert.Equal(t, "odd", records[1].Value)
}

func TestConnectFilterMapDropsFilteredValues(t *testing.T) {
	out := NewOutput[int]("values")
	sink := NewCollectingSink[int]()

	ConnectFilterMap(out, sink, func(v int) (int, bool) {
		return v * 10, v%2 == 0
	})

	out.Emit(NewSimTime(1, 0), 1)
	out.Emit(NewSimTime(2, 0), 2)
	out.Emit(NewSimTime(3, 0), 3)
	out.Emit(NewSimTime(4, 0), 4)

	records := sink.Records()
	assert.Len(t, records, 2)
	assert.Equal(t, 20, records[0].Value)
	assert.Equal(t, 40, records[1].Value)
}

func TestLatestSinkKeepsOnlyTheMostRecentValue(t *testing.T) {
	sink := NewLatestSink[int]()

	_, _, ok := sink.Latest()
	assert.False(t, ok)

	sink.Accept(NewSimTime(1, 0), 1)
	sink.Accept(NewSimTime(2, 0), 2)

	v, at, ok := sink.Latest()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, NewSimTime(2, 0), at)
}

type echoModel struct{ name string }

func (m *echoModel) Name() string { return m.name }

func (m *echoModel) Double(ctx Context, v int) int { return v * 2 }

func TestRequestorAsksEveryConnectedReplierAndCollectsReplies(t *testing.T) {
	b := NewSimInit()
	asker := &countingModel{name: "asker"}
	r1 := &echoModel{name: "r1"}
	r2 := &echoModel{name: "r2"}
	askerAddr := b.AddModel("asker", asker)
	r1Addr := b.AddModel("r1", r1)
	r2Addr := b.AddModel("r2", r2)
	sim := b.Init(Epoch)
	defer sim.Shutdown()

	requestor := NewRequestor[int, int]("double")
	requestor.Connect(r1Addr, r1.Double)
	requestor.Connect(r2Addr, r2.Double)

	var replies []int
	err := sim.ProcessEvent(askerAddr, func(ctx Context) {
		replies = requestor.Ask(ctx, 5)
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{10, 10}, replies)
}

func TestUniRequestorAsksItsOneReplier(t *testing.T) {
	b := NewSimInit()
	asker := &countingModel{name: "asker"}
	replier := &echoModel{name: "replier"}
	askerAddr := b.AddModel("asker", asker)
	replierAddr := b.AddModel("replier", replier)
	sim := b.Init(Epoch)
	defer sim.Shutdown()

	uni := NewUniRequestor[int, int]("double")
	uni.Connect(replierAddr, replier.Double)

	var reply int
	err := sim.ProcessEvent(askerAddr, func(ctx Context) {
		var askErr error
		reply, askErr = uni.Ask(ctx, 9)
		require.NoError(t, askErr)
	})
	require.NoError(t, err)

	assert.Equal(t, 18, reply)
}

func TestUniRequestorWithoutConnectionReportsNoRecipient(t *testing.T) {
	b := NewSimInit()
	asker := &countingModel{name: "asker"}
	askerAddr := b.AddModel("asker", asker)
	sim := b.Init(Epoch)
	defer sim.Shutdown()

	uni := NewUniRequestor[int, int]("double")

	err := sim.ProcessEvent(askerAddr, func(ctx Context) {
		_, askErr := uni.Ask(ctx, 9)
		require.Error(t, askErr)

		var simErr *Error
		require.ErrorAs(t, askErr, &simErr)
		assert.Equal(t, KindNoRecipient, simErr.Kind)
	})
	require.NoError(t, err)
}
