package zego

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn is an in-memory transport double standing in for the serial
// port. Reads pull from a script channel and block while it is empty;
// writes are recorded and may trigger a queued reply, mimicking the
// request/response behavior of the sensor.
type pipeConn struct {
	mu      sync.Mutex
	wrote   []byte
	replies [][]byte

	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

// stuff makes bytes readable immediately, as if the sensor had sent
// them unprompted.
func (c *pipeConn) stuff(b ...byte) {
	c.in <- b
}

// reply queues bytes to be delivered right after the next write.
func (c *pipeConn) reply(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, b)
}

func (c *pipeConn) Read(p []byte) (int, error) {
	select {
	case b := <-c.in:
		return copy(p, b), nil
	case <-c.closed:
		return 0, io.EOF
	}
}

func (c *pipeConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.EOF
	default:
	}
	c.mu.Lock()
	c.wrote = append(c.wrote, p...)
	var rep []byte
	if len(c.replies) > 0 {
		rep = c.replies[0]
		c.replies = c.replies[1:]
	}
	c.mu.Unlock()
	if rep != nil {
		c.in <- rep
	}
	return len(p), nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.wrote...)
}

// newTestDevice attaches a Device to conn with timing short enough for
// tests.
func newTestDevice(t *testing.T, conn io.ReadWriteCloser) *Device {
	t.Helper()
	o := NewDevice()
	o.Timeout = 50 * time.Millisecond
	o.SettleDelay = time.Millisecond
	o.WriteDelay = time.Millisecond
	o.IdleWait = 50 * time.Millisecond
	o.attach(conn)
	t.Cleanup(func() { o.Close() })
	return o
}

func stateFrame(s SensorState) []byte {
	return Frame{Opcode: OpQueryState, Data: [5]byte{byte(s)}}.Bytes()
}

func TestQueryState_ResyncOnLeadingGarbage(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)

	// Two garbage bytes, then a valid state-query response reporting
	// idle. The reader must discard the garbage and realign on 0xFF.
	c.reply([]byte{0x00, 0x00, 0xFF, 0x01, 0x85, 0x31, 0x00, 0x00, 0x00, 0x00, 0x49})

	s, err := o.QueryState()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s)
	assert.Equal(t, StateIdle, o.Status())
	assert.False(t, o.ResultAvailable())

	// The documented query-state command must have gone out verbatim.
	assert.Equal(t, []byte{0xFF, 0x01, 0x85, 0x00, 0x00, 0x00, 0x00, 0x00, 0x7A}, c.written())
}

func TestQueryState_PartialResponse(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)

	// Only 4 bytes of the frame arrive before the deadline.
	c.reply([]byte{0xFF, 0x01, 0x85, 0x31})

	_, err := o.QueryState()
	var pe *PartialError
	require.ErrorAs(t, err, &pe)
	assert.Len(t, pe.Received, 4)
	assert.Equal(t, []byte{0xFF, 0x01, 0x85, 0x31}, pe.Received)
}

func TestQueryState_NoResponse(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)

	_, err := o.QueryState()
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, StateUnknown, o.Status())
}

func TestQueryState_GarbageOnlyIsNoFrame(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)

	// Noise without a start marker never forms a candidate, so the
	// timeout reports zero bytes received rather than a partial frame.
	c.reply([]byte{0x12, 0x34, 0x56})

	_, err := o.QueryState()
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestExchange_DrainsStaleBytes(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)

	// A stray duplicate response from an earlier exchange sits in the
	// buffer. It must be flushed before sending, not parsed as the
	// answer to the next command.
	c.stuff(stateFrame(StateBlowing)...)
	time.Sleep(10 * time.Millisecond) // let the pump buffer it

	c.reply(stateFrame(StateIdle))
	s, err := o.QueryState()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s)
}

func TestExchange_ChecksumError(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)

	bad := stateFrame(StateIdle)
	bad[8] ^= 0x01
	c.reply(bad)

	_, err := o.QueryState()
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, StateUnknown, o.Status(), "state must not change on an invalid frame")
}

func TestExchange_UnexpectedOpcode(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)

	c.reply(Frame{Opcode: OpReadBlowTime, Data: [5]byte{5}}.Bytes())

	_, err := o.QueryState()
	var oe *UnexpectedOpcodeError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, OpQueryState, oe.Want)
	assert.Equal(t, OpReadBlowTime, oe.Got)
}

func TestExchange_AfterClose(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)

	require.NoError(t, o.Close())
	_, err := o.QueryState()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReconnect_SerializesWithExchange(t *testing.T) {
	c := newPipeConn()
	o := newTestDevice(t, c)
	o.link = "unsupported://dev" // makes the reopen fail fast after the swap

	errc := make(chan error, 1)
	go func() {
		_, err := o.QueryState() // no reply queued, runs out the deadline
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.Error(t, o.Reconnect())

	// Had the swap not waited for the exchange, closing the connection
	// mid-read would have cut it short with EOF instead of letting the
	// deadline elapse.
	assert.ErrorIs(t, <-errc, ErrNoResponse)
}

func TestReconnect_BeforeConnect(t *testing.T) {
	o := NewDevice()
	assert.Error(t, o.Reconnect())
}

func TestClose_Twice(t *testing.T) {
	c := newPipeConn()
	o := NewDevice()
	o.attach(c)

	assert.NoError(t, o.Close())
	assert.ErrorIs(t, o.Close(), io.ErrClosedPipe)
}
