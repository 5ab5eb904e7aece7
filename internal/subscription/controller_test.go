package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoRide/internal/model"
	"cryptoRide/internal/transport"
)

const waitTimeout = 2 * time.Second

type fakeConn struct {
	frames chan transport.Frame

	mu       sync.Mutex
	written  []string
	closes   int
	closed   bool
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan transport.Frame, 32)}
}

func (f *fakeConn) WriteText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, text)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
	return nil
}

func (f *fakeConn) Frames() <-chan transport.Frame {
	return f.frames
}

func (f *fakeConn) push(frame transport.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.frames <- frame
}

func (f *fakeConn) pushText(text string) {
	f.push(transport.Frame{Kind: transport.FrameText, Text: text})
}

func (f *fakeConn) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeDialer hands out the queued connections in order; a nil entry fails the dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (transport.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	if conn == nil {
		return nil, errors.New("connection refused")
	}
	conn.push(transport.Frame{Kind: transport.FrameConnected})
	return conn, nil
}

type recorder struct {
	changes chan StateChange
	logs    chan model.LogEntry
}

func newRecorder() *recorder {
	return &recorder{
		changes: make(chan StateChange, 64),
		logs:    make(chan model.LogEntry, 64),
	}
}

func (r *recorder) StateChanged(change StateChange) {
	r.changes <- change
}

func (r *recorder) HandleLog(_ context.Context, entry model.LogEntry) {
	r.logs <- entry
}

func (r *recorder) waitFor(t *testing.T, state State) StateChange {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case change := <-r.changes:
			if change.To == state {
				return change
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for state %s", state)
		}
	}
}

func (r *recorder) nextLog(t *testing.T) model.LogEntry {
	t.Helper()
	select {
	case entry := <-r.logs:
		return entry
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for log")
	}
	return model.LogEntry{}
}

func testConfig(rec *recorder) Config {
	return Config{
		Endpoint:       "ws://node.test",
		Address:        testAddress,
		AckTimeout:     -1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Observer:       rec,
	}
}

// newDirectController returns a controller whose frames are fed by the test
// itself instead of a processing goroutine.
func newDirectController(t *testing.T, state State) (*Controller, *fakeConn, *recorder) {
	t.Helper()
	rec := newRecorder()
	c, err := NewController(testConfig(rec), &fakeDialer{}, rec)
	require.NoError(t, err)
	conn := newFakeConn()
	c.conn = conn
	c.started = true
	c.state = state
	if state == StateSubscribed || state == StateUnsubscribing {
		c.subscriptionID = testSubID
	}
	return c, conn, rec
}

func waitWrites(t *testing.T, conn *fakeConn, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.writes()) >= n
	}, waitTimeout, time.Millisecond)
	return conn.writes()
}

func TestNewControllerValidation(t *testing.T) {
	rec := newRecorder()

	_, err := NewController(Config{Address: testAddress}, &fakeDialer{}, rec)
	require.Error(t, err)

	_, err = NewController(Config{Endpoint: "ws://x"}, &fakeDialer{}, rec)
	require.Error(t, err)

	_, err = NewController(Config{Endpoint: "ws://x", Address: testAddress, MaxReconnects: -1}, &fakeDialer{}, rec)
	require.Error(t, err)

	_, err = NewController(Config{Endpoint: "ws://x", Address: testAddress}, nil, rec)
	require.Error(t, err)

	c, err := NewController(Config{Endpoint: "ws://x", Address: testAddress}, &fakeDialer{}, rec)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, defaultAckTimeout, c.cfg.AckTimeout)
}

func TestConnectedWritesSubscribe(t *testing.T) {
	c, conn, _ := newDirectController(t, StateNotSubscribed)

	c.handleFrame(context.Background(), transport.Frame{Kind: transport.FrameConnected})

	writes := conn.writes()
	require.Len(t, writes, 1)
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","id":1,"method":"eth_subscribe","params":["logs",{"address":"`+testAddress+`"}]}`,
		writes[0],
	)
	assert.Equal(t, StateNotSubscribed, c.State())
}

func TestNotSubscribedFrames(t *testing.T) {
	tests := map[string]struct {
		text          string
		expectedState State
		expectedID    string
	}{
		"ack": {
			text:          `{"jsonrpc":"2.0","id":1,"result":"` + testSubID + `"}`,
			expectedState: StateSubscribed,
			expectedID:    testSubID,
		},
		"malformed": {
			text:          `{"jsonrpc":`,
			expectedState: StateNotSubscribed,
		},
		"rpc error": {
			text:          `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"boom"}}`,
			expectedState: StateNotSubscribed,
		},
		"early notification": {
			text:          notification(testSubID, testTopic0),
			expectedState: StateNotSubscribed,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, conn, rec := newDirectController(t, StateNotSubscribed)

			c.handleFrame(context.Background(), transport.Frame{Kind: transport.FrameText, Text: tc.text})

			assert.Equal(t, tc.expectedState, c.State())
			assert.Equal(t, tc.expectedID, c.SubscriptionID())
			assert.Equal(t, 0, conn.closeCount())
			assert.Empty(t, rec.logs)
		})
	}
}

func TestSubscribedFrames(t *testing.T) {
	tests := map[string]struct {
		text            string
		expectForwarded bool
	}{
		"notification": {
			text:            notification(testSubID, testTopic0),
			expectForwarded: true,
		},
		"other subscription": {
			text: notification("0xother", testTopic0),
		},
		"no topics": {
			text: notification(testSubID),
		},
		"late ack": {
			text: `{"jsonrpc":"2.0","id":1,"result":"` + testSubID + `"}`,
		},
		"garbage": {
			text: `not json`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, _, rec := newDirectController(t, StateSubscribed)

			c.handleFrame(context.Background(), transport.Frame{Kind: transport.FrameText, Text: tc.text})

			assert.Equal(t, StateSubscribed, c.State())
			if !tc.expectForwarded {
				assert.Empty(t, rec.logs)
				return
			}
			require.Len(t, rec.logs, 1)
			entry := <-rec.logs
			assert.Equal(t, testTopic0, entry.Topic0())
		})
	}
}

func TestSubscribedPreservesOrder(t *testing.T) {
	c, _, rec := newDirectController(t, StateSubscribed)

	topics := []string{"0x01", "0x02", "0x03", "0x04"}
	for _, topic := range topics {
		c.handleFrame(context.Background(), transport.Frame{Kind: transport.FrameText, Text: notification(testSubID, topic)})
	}

	require.Len(t, rec.logs, len(topics))
	for _, topic := range topics {
		assert.Equal(t, topic, (<-rec.logs).Topic0())
	}
}

func TestUnsubscribingFrames(t *testing.T) {
	c, conn, _ := newDirectController(t, StateUnsubscribing)
	ctx := context.Background()

	c.handleFrame(ctx, transport.Frame{Kind: transport.FrameText, Text: `{"jsonrpc":"2.0","id":1,"result":false}`})
	assert.Equal(t, StateUnsubscribing, c.State())
	assert.Equal(t, 0, conn.closeCount())

	c.handleFrame(ctx, transport.Frame{Kind: transport.FrameText, Text: notification(testSubID, testTopic0)})
	assert.Equal(t, StateUnsubscribing, c.State())
	assert.Equal(t, 0, conn.closeCount())

	c.handleFrame(ctx, transport.Frame{Kind: transport.FrameText, Text: `{"jsonrpc":"2.0","id":1,"result":true}`})
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, conn.closeCount())
	assert.NoError(t, c.Err())

	c.handleFrame(ctx, transport.Frame{Kind: transport.FrameText, Text: `{"jsonrpc":"2.0","id":1,"result":true}`})
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, conn.closeCount())
}

func TestStopOutsideSubscribed(t *testing.T) {
	for _, state := range []State{StateNotSubscribed, StateUnsubscribing, StateClosed, StateFailed} {
		t.Run(state.String(), func(t *testing.T) {
			c, conn, _ := newDirectController(t, state)

			err := c.handleCommand(commandStop)

			require.ErrorIs(t, err, ErrProtocolViolation)
			assert.Equal(t, state, c.State())
			assert.Empty(t, conn.writes())
		})
	}
}

func TestStopBeforeStart(t *testing.T) {
	rec := newRecorder()
	c, err := NewController(testConfig(rec), &fakeDialer{}, rec)
	require.NoError(t, err)

	require.ErrorIs(t, c.Stop(), ErrNotStarted)
	require.NoError(t, c.Close())
	assert.Equal(t, StateIdle, c.State())
}

func TestStopWriteFailure(t *testing.T) {
	c, conn, _ := newDirectController(t, StateSubscribed)
	conn.writeErr = errors.New("broken pipe")

	err := c.handleCommand(commandStop)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, 1, conn.closeCount())
}

func TestUnsubscribeAckTimeout(t *testing.T) {
	c, conn, _ := newDirectController(t, StateUnsubscribing)

	c.handleAckTimeout(context.Background())

	assert.Equal(t, StateFailed, c.State())
	require.ErrorIs(t, c.Err(), ErrAckTimeout)
	assert.Equal(t, 1, conn.closeCount())
}

func TestSubscribeAckTimeoutWithoutReconnect(t *testing.T) {
	c, conn, _ := newDirectController(t, StateNotSubscribed)

	c.handleAckTimeout(context.Background())

	assert.Equal(t, StateFailed, c.State())
	var terr *TransportError
	require.ErrorAs(t, c.Err(), &terr)
	require.ErrorIs(t, c.Err(), ErrAckTimeout)
	assert.Equal(t, 1, conn.closeCount())
}

func TestTransportErrorFrame(t *testing.T) {
	c, conn, _ := newDirectController(t, StateSubscribed)
	cause := errors.New("connection reset by peer")

	c.handleFrame(context.Background(), transport.Frame{Kind: transport.FrameError, Err: cause})

	assert.Equal(t, StateFailed, c.State())
	require.ErrorIs(t, c.Err(), cause)
	assert.Equal(t, 1, conn.closeCount())
}

func TestControllerLifecycle(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	rec := newRecorder()
	c, err := NewController(testConfig(rec), dialer, rec)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	rec.waitFor(t, StateNotSubscribed)
	require.ErrorIs(t, c.Start(context.Background()), ErrProtocolViolation)

	waitWrites(t, conn, 1)
	conn.pushText(`{"jsonrpc":"2.0","id":1,"result":"` + testSubID + `"}`)
	change := rec.waitFor(t, StateSubscribed)
	assert.Equal(t, testSubID, change.SubscriptionID)
	assert.Equal(t, 0, change.Reconnect)

	conn.pushText(notification(testSubID, testTopic0))
	assert.Equal(t, testTopic0, rec.nextLog(t).Topic0())

	require.NoError(t, c.Stop())
	rec.waitFor(t, StateUnsubscribing)
	writes := waitWrites(t, conn, 2)
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","id":1,"method":"eth_unsubscribe","params":["`+testSubID+`"]}`,
		writes[1],
	)
	require.ErrorIs(t, c.Stop(), ErrProtocolViolation)

	conn.pushText(`{"jsonrpc":"2.0","id":1,"result":true}`)
	rec.waitFor(t, StateClosed)

	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("controller did not finish")
	}
	assert.Equal(t, 1, conn.closeCount())
	assert.NoError(t, c.Err())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Stop(), ErrProtocolViolation)
}

func TestControllerStartDialFailure(t *testing.T) {
	rec := newRecorder()
	c, err := NewController(testConfig(rec), &fakeDialer{}, rec)
	require.NoError(t, err)

	err = c.Start(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateFailed, c.State())
	<-c.Done()
}

func TestControllerReconnect(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, nil, second}}
	rec := newRecorder()
	cfg := testConfig(rec)
	cfg.MaxReconnects = 3
	c, err := NewController(cfg, dialer, rec)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	waitWrites(t, first, 1)
	first.pushText(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`)
	rec.waitFor(t, StateSubscribed)

	first.push(transport.Frame{Kind: transport.FrameError, Err: errors.New("reset")})
	dropped := rec.waitFor(t, StateNotSubscribed)
	assert.Equal(t, StateSubscribed, dropped.From)
	require.Error(t, dropped.Err)

	writes := waitWrites(t, second, 1)
	assert.Contains(t, writes[0], "eth_subscribe")
	second.pushText(`{"jsonrpc":"2.0","id":1,"result":"0x2"}`)
	resubscribed := rec.waitFor(t, StateSubscribed)
	assert.Equal(t, 2, resubscribed.Reconnect)
	assert.Equal(t, "0x2", c.SubscriptionID())

	second.pushText(notification("0x1", testTopic0))
	second.pushText(notification("0x2", "0x02"))
	assert.Equal(t, "0x02", rec.nextLog(t).Topic0())

	require.NoError(t, c.Close())
	rec.waitFor(t, StateClosed)
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 1, second.closeCount())
}

func TestControllerReconnectExhausted(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	rec := newRecorder()
	cfg := testConfig(rec)
	cfg.MaxReconnects = 2
	c, err := NewController(cfg, dialer, rec)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	waitWrites(t, conn, 1)
	conn.push(transport.Frame{Kind: transport.FrameError, Err: errors.New("reset")})

	rec.waitFor(t, StateFailed)
	<-c.Done()

	var terr *TransportError
	require.ErrorAs(t, c.Err(), &terr)
	assert.Equal(t, 2, terr.Attempts)
	dialer.mu.Lock()
	assert.Equal(t, 3, dialer.dials)
	dialer.mu.Unlock()
}

func TestControllerSubscribeAckTimeout(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	cfg := testConfig(rec)
	cfg.AckTimeout = 20 * time.Millisecond
	c, err := NewController(cfg, &fakeDialer{conns: []*fakeConn{conn}}, rec)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))

	rec.waitFor(t, StateFailed)
	require.ErrorIs(t, c.Err(), ErrAckTimeout)
	assert.Len(t, conn.writes(), 1)
	assert.Equal(t, 1, conn.closeCount())
}

func TestControllerCloseFromNotSubscribed(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	c, err := NewController(testConfig(rec), &fakeDialer{conns: []*fakeConn{conn}}, rec)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	rec.waitFor(t, StateNotSubscribed)

	require.NoError(t, c.Close())
	rec.waitFor(t, StateClosed)
	<-c.Done()
	assert.Equal(t, 1, conn.closeCount())
	require.NoError(t, c.Close())
}

func TestControllerContextCancel(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	c, err := NewController(testConfig(rec), &fakeDialer{conns: []*fakeConn{conn}}, rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	waitWrites(t, conn, 1)

	cancel()
	rec.waitFor(t, StateClosed)
	<-c.Done()
	assert.Equal(t, 1, conn.closeCount())
}

func TestControllerCloseWaitsForObserver(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entered := make(chan struct{})
	cfg := testConfig(rec)
	cfg.Observer = ObserverFunc(func(change StateChange) {
		rec.StateChanged(change)
		if change.To == StateSubscribed {
			close(entered)
			<-ctx.Done()
		}
	})
	c, err := NewController(cfg, &fakeDialer{conns: []*fakeConn{conn}}, rec)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	waitWrites(t, conn, 1)
	conn.pushText(`{"jsonrpc":"2.0","id":1,"result":"` + testSubID + `"}`)
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case <-closed:
		t.Fatalf("close returned while the observer was still running")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatalf("close blocked after the observer was released")
	}
	rec.waitFor(t, StateClosed)
	assert.Equal(t, 1, conn.closeCount())
}
