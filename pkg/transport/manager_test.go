package transport

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.frames:
		return b, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(data []byte) {
	select {
	case c.frames <- data:
	case <-c.closed:
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

type dialStep struct {
	conn *fakeConn
	err  error
	gate chan struct{}
}

type fakeDialer struct {
	mu     sync.Mutex
	script []dialStep
	calls  int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	i := d.calls
	d.calls++
	step := d.script[len(d.script)-1]
	if i < len(d.script) {
		step = d.script[i]
	}
	d.mu.Unlock()
	if step.gate != nil {
		<-step.gate
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitForStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, _ := m.Status()
		return got == want
	}, 2*time.Second, time.Millisecond)
}

func TestManager_DeliversFramesInArrivalOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []dialStep{{conn: conn}}}

	var mu sync.Mutex
	var got [][]byte
	m := NewManager(dialer, "ws://test/ws",
		WithFrameHandler(func(b []byte) {
			mu.Lock()
			got = append(got, b)
			mu.Unlock()
		}),
		WithBackoff(time.Millisecond, 10*time.Millisecond),
	)
	defer m.Disconnect()

	m.Connect(context.Background())
	waitForStatus(t, m, StatusConnected)

	conn.push([]byte("one"))
	conn.push([]byte("two"))
	conn.push([]byte("three"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("one"), got[0])
	assert.Equal(t, []byte("two"), got[1])
	assert.Equal(t, []byte("three"), got[2])
}

func TestManager_ReconnectCounterIncrementsAndResets(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{script: []dialStep{
		{conn: conn1},
		{err: errors.New("connection refused")},
		{conn: conn2},
	}}
	m := NewManager(dialer, "ws://test/ws", WithBackoff(time.Millisecond, 10*time.Millisecond))
	defer m.Disconnect()

	m.Connect(context.Background())
	waitForStatus(t, m, StatusConnected)
	_, attempts := m.Status()
	assert.Equal(t, 0, attempts)

	// unexpected close: attempt 1 fails, attempt 2 succeeds
	_ = conn1.Close()
	waitForStatus(t, m, StatusConnected)
	_, attempts = m.Status()
	assert.Equal(t, 0, attempts, "successful connect resets the counter")
	assert.GreaterOrEqual(t, dialer.dialCount(), 3)
}

func TestManager_ManualRetrySkipsBackoffWithoutIncrementing(t *testing.T) {
	gate := make(chan struct{})
	conn := newFakeConn()
	dialer := &fakeDialer{script: []dialStep{
		{err: errors.New("connection refused")},
		{conn: conn, gate: gate},
	}}
	// huge backoff: without ManualRetry the second dial would never happen
	m := NewManager(dialer, "ws://test/ws", WithBackoff(time.Hour, time.Hour))
	defer m.Disconnect()

	m.Connect(context.Background())
	waitForStatus(t, m, StatusReconnecting)
	_, attempts := m.Status()
	require.Equal(t, 1, attempts)

	m.ManualRetry()
	require.Eventually(t, func() bool { return dialer.dialCount() == 2 }, 2*time.Second, time.Millisecond)
	st, attempts := m.Status()
	assert.Equal(t, StatusConnecting, st)
	assert.Equal(t, 1, attempts, "manual retry leaves the counter intact")

	close(gate)
	waitForStatus(t, m, StatusConnected)
	_, attempts = m.Status()
	assert.Equal(t, 0, attempts)
}

func TestManager_DisconnectSuppressesAutoReconnect(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []dialStep{{conn: conn}}}
	m := NewManager(dialer, "ws://test/ws", WithBackoff(time.Millisecond, 10*time.Millisecond))

	m.Connect(context.Background())
	waitForStatus(t, m, StatusConnected)

	m.Disconnect()
	waitForStatus(t, m, StatusDisconnected)

	// a late close event from the torn-down transport must not redial
	_ = conn.Close()
	time.Sleep(20 * time.Millisecond)
	st, _ := m.Status()
	assert.Equal(t, StatusDisconnected, st)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_SendIsNoopUnlessConnected(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []dialStep{{conn: conn}}}
	m := NewManager(dialer, "ws://test/ws", WithBackoff(time.Millisecond, 10*time.Millisecond))

	m.Send([]byte("dropped")) // idle: silently dropped

	m.Connect(context.Background())
	waitForStatus(t, m, StatusConnected)
	m.Send([]byte("delivered"))

	require.Eventually(t, func() bool { return len(conn.written()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []byte("delivered"), conn.written()[0])

	m.Disconnect()
	m.Send([]byte("dropped too"))
	assert.Len(t, conn.written(), 1)
}

func TestManager_KeepaliveStartsAfterHandshake(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []dialStep{{conn: conn}}}
	ping := []byte(`{"type":"ping"}`)
	m := NewManager(dialer, "ws://test/ws",
		WithBackoff(time.Millisecond, 10*time.Millisecond),
		WithKeepalive(ping, 5*time.Millisecond),
	)
	defer m.Disconnect()

	m.Connect(context.Background())
	waitForStatus(t, m, StatusConnected)

	require.Eventually(t, func() bool {
		for _, w := range conn.written() {
			if bytes.Equal(w, ping) {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
}

// overlapConn reports writes that enter WriteMessage while another write is
// still in progress. gorilla/websocket allows a single writer only, so any
// overlap between Send and the keepalive goroutine would panic in
// production.
type overlapConn struct {
	closed  chan struct{}
	once    sync.Once
	inWrite atomic.Int32
	overlap atomic.Int32
}

func (c *overlapConn) ReadMessage() ([]byte, error) {
	<-c.closed
	return nil, io.EOF
}

func (c *overlapConn) WriteMessage(_ []byte) error {
	if c.inWrite.Add(1) > 1 {
		c.overlap.Add(1)
	}
	time.Sleep(200 * time.Microsecond)
	c.inWrite.Add(-1)
	return nil
}

func (c *overlapConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestManager_SendAndKeepaliveWritesAreSerialized(t *testing.T) {
	conn := &overlapConn{closed: make(chan struct{})}
	m := NewManager(&overlapDialer{conn: conn}, "ws://test/ws",
		WithBackoff(time.Millisecond, 10*time.Millisecond),
		WithKeepalive([]byte(`{"type":"ping"}`), time.Millisecond),
	)
	defer m.Disconnect()

	m.Connect(context.Background())
	waitForStatus(t, m, StatusConnected)

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Send([]byte(`{"type":"message","content":"x"}`))
	}

	assert.Zero(t, conn.overlap.Load(), "Send and the keepalive goroutine must never write the conn concurrently")
}

type overlapDialer struct {
	conn *overlapConn
}

func (d *overlapDialer) Dial(_ context.Context, _ string) (Conn, error) {
	return d.conn, nil
}

func TestEndpoint_DerivesSchemeAndQuery(t *testing.T) {
	ep, err := Endpoint("https://api.example.com", "c1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws?conv_id=c1&token=tok", ep)

	ep, err = Endpoint("http://localhost:8080", "c2", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws?conv_id=c2", ep)

	_, err = Endpoint("ftp://x", "c", "t")
	require.Error(t, err)
}
