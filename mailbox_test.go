package quanta

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxFIFOOrder(t *testing.T) {
	m := NewMailbox(4)

	var got []int
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, m.Send(func() { got = append(got, i) }))
	}

	for i := 0; i < 3; i++ {
		task, ok := m.Recv()
		require.True(t, ok)
		task()
	}

	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestMailboxBlocksOnFullUntilRoom(t *testing.T) {
	m := NewMailbox(1)
	require.NoError(t, m.Send(func() {}))

	done := make(chan struct{})
	go func() {
		require.NoError(t, m.Send(func() {}))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second send should have blocked while mailbox is full")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := m.Recv()
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second send never unblocked after room freed")
	}
}

func TestMailboxCloseWakesBlockedSendersAndReceivers(t *testing.T) {
	m := NewMailbox(1)
	require.NoError(t, m.Send(func() {}))

	var wg sync.WaitGroup
	wg.Add(2)

	var sendErr error
	go func() {
		defer wg.Done()
		sendErr = m.Send(func() {})
	}()

	go func() {
		defer wg.Done()
		m.Close()
	}()

	wg.Wait()
	assert.Error(t, sendErr)

	_, ok := m.Recv()
	require.True(t, ok) // the one message queued before Close still drains

	_, ok = m.Recv()
	assert.False(t, ok) // now empty and closed
}

func TestMailboxTrySendTryRecv(t *testing.T) {
	m := NewMailbox(1)

	assert.True(t, m.TrySend(func() {}))
	assert.False(t, m.TrySend(func() {})) // full

	_, ok := m.TryRecv()
	assert.True(t, ok)

	_, ok = m.TryRecv()
	assert.False(t, ok) // empty
}
