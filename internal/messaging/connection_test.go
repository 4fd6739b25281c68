package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newTestConnection(dialer *fakeDialer) (*Connection, *fakeClock, *Dispatcher) {
	frames := NewDispatcher()
	conn := NewConnection(dialer, frames, nil, DefaultConnectionConfig())
	clock := &fakeClock{}
	conn.afterFunc = clock.afterFunc
	conn.newTicker = clock.newTicker
	return conn, clock, frames
}

func waitState(t *testing.T, conn *Connection, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.State() == want }, waitFor, tick,
		"state stayed %s, want %s", conn.State(), want)
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	conn, clock, _ := newTestConnection(dialer)

	conn.Connect("u1")
	conn.Connect("u1")
	waitState(t, conn, StateOpen)
	conn.Connect("u1")

	require.Eventually(t, func() bool { return clock.tickerCount() == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, 1, clock.tickerCount(), "one heartbeat loop")
	assert.Equal(t, "u1", conn.Identity())
}

func TestConnectOtherIdentityReplacesSocket(t *testing.T) {
	dialer := &fakeDialer{}
	conn, _, _ := newTestConnection(dialer)

	conn.Connect("u1")
	waitState(t, conn, StateOpen)
	first := dialer.last()

	conn.Connect("u2")
	require.Eventually(t, func() bool { return dialer.dialCount() == 2 }, waitFor, tick)
	waitState(t, conn, StateOpen)

	assert.True(t, first.isClosed())
	assert.Equal(t, "u2", conn.Identity())
	assert.Equal(t, []string{"u1", "u2"}, dialer.identities)
}

func TestReconnectBackoffGivesUpAfterFiveAttempts(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	conn, clock, _ := newTestConnection(dialer)
	states := record(conn.StateChanges())

	conn.Connect("u1")

	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool { return clock.timerCount() == i+1 }, waitFor, tick)
		assert.Equal(t, StateReconnecting, conn.State())
		assert.Equal(t, i+1, conn.Attempts())
		clock.timer(i).fn()
	}

	waitState(t, conn, StateClosed)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, clock.delays())
	for i, d := range clock.delays() {
		assert.Equal(t, ReconnectDelay(DefaultConnectionConfig().BaseDelay, i+1), d)
	}
	assert.Equal(t, 6, dialer.dialCount(), "initial dial plus five retries")
	assert.Equal(t, 5, clock.timerCount(), "no sixth attempt")

	all := states.all()
	require.NotEmpty(t, all)
	assert.Equal(t, StateClosed, all[len(all)-1])
}

func TestSuccessfulReconnectResetsAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	conn, clock, _ := newTestConnection(dialer)

	conn.Connect("u1")
	waitState(t, conn, StateOpen)

	dialer.setFail(true)
	dialer.last().Close()
	require.Eventually(t, func() bool { return clock.timerCount() == 1 }, waitFor, tick)
	waitState(t, conn, StateReconnecting)

	clock.timer(0).fn()
	require.Eventually(t, func() bool { return clock.timerCount() == 2 }, waitFor, tick)
	assert.Equal(t, 2, conn.Attempts())

	dialer.setFail(false)
	// a successful dial keeps reading, so fire it like a real timer would
	go clock.timer(1).fn()
	waitState(t, conn, StateOpen)
	assert.Equal(t, 0, conn.Attempts())

	// the next loss starts again from the base delay
	dialer.last().Close()
	require.Eventually(t, func() bool { return clock.timerCount() == 3 }, waitFor, tick)
	assert.Equal(t, time.Second, clock.timer(2).delay)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	conn, clock, _ := newTestConnection(dialer)

	conn.Connect("u1")
	waitState(t, conn, StateOpen)
	dialer.last().Close()
	require.Eventually(t, func() bool { return clock.timerCount() == 1 }, waitFor, tick)

	conn.Disconnect()
	assert.Equal(t, StateClosed, conn.State())
	assert.True(t, clock.timer(0).stopped)

	// a timer that fired anyway finds a stale epoch
	clock.timer(0).fn()
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StateClosed, conn.State())
}

func TestSendWhenNotOpen(t *testing.T) {
	dialer := &fakeDialer{}
	conn, _, _ := newTestConnection(dialer)

	err := conn.Send(ChatMessage("u2", "hello"))
	assert.ErrorIs(t, err, ErrNotConnected)

	conn.Connect("u1")
	waitState(t, conn, StateOpen)
	conn.Disconnect()

	err = conn.Send(ChatMessage("u2", "hello"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, dialer.last().writes(), "nothing is queued")
}

func TestSendWritesFrame(t *testing.T) {
	dialer := &fakeDialer{}
	conn, _, _ := newTestConnection(dialer)

	conn.Connect("u1")
	waitState(t, conn, StateOpen)

	require.NoError(t, conn.Send(ChatMessage("u2", "hello")))

	writes := dialer.last().writes()
	require.Len(t, writes, 1)
	msg, err := DecodeFrame(writes[0])
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, msg.Type)
	assert.Equal(t, "hello", msg.Request.Content)
}

func TestPongIsNotDispatched(t *testing.T) {
	dialer := &fakeDialer{}
	conn, _, frames := newTestConnection(dialer)
	got := record(frames)

	conn.Connect("u1")
	waitState(t, conn, StateOpen)

	tr := dialer.last()
	tr.push(ProtocolMessage{Type: TypePong})
	tr.in <- []byte(`garbage`)
	tr.in <- []byte(`{"message_type":"typing"}`)
	tr.push(ProtocolMessage{Type: TypeNewMessage, Message: &Message{ID: "m1", ConversationID: "c1", Content: "hi"}})

	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	all := got.all()
	require.Len(t, all, 1)
	assert.Equal(t, TypeNewMessage, all[0].Type)
	assert.Equal(t, StateOpen, conn.State(), "bad frames do not close the socket")
}

func TestHeartbeatSendsPing(t *testing.T) {
	dialer := &fakeDialer{}
	conn, clock, _ := newTestConnection(dialer)

	conn.Connect("u1")
	waitState(t, conn, StateOpen)
	require.Eventually(t, func() bool { return clock.tickerCount() == 1 }, waitFor, tick)

	clock.ticker(0) <- time.Now()

	tr := dialer.last()
	require.Eventually(t, func() bool { return len(tr.writes()) == 1 }, waitFor, tick)
	msg, err := DecodeFrame(tr.writes()[0])
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type)
}

func TestHeartbeatStopsOnLossAndRestartsOnOpen(t *testing.T) {
	dialer := &fakeDialer{}
	conn, clock, _ := newTestConnection(dialer)

	conn.Connect("u1")
	waitState(t, conn, StateOpen)
	require.Eventually(t, func() bool { return clock.tickerCount() == 1 }, waitFor, tick)

	dropped := dialer.last()
	dropped.Close()
	require.Eventually(t, func() bool { return clock.timerCount() == 1 }, waitFor, tick)
	waitState(t, conn, StateReconnecting)

	// the old loop has exited, so nobody takes this tick
	select {
	case clock.ticker(0) <- time.Now():
		t.Fatal("heartbeat still running after the connection was lost")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, dropped.writes())

	go clock.timer(0).fn()
	waitState(t, conn, StateOpen)
	require.Eventually(t, func() bool { return clock.tickerCount() == 2 }, waitFor, tick)

	clock.ticker(1) <- time.Now()

	fresh := dialer.last()
	require.NotSame(t, dropped, fresh)
	require.Eventually(t, func() bool { return len(fresh.writes()) == 1 }, waitFor, tick)
	msg, err := DecodeFrame(fresh.writes()[0])
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "state(42)", State(42).String())
}
