package zego

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Default timing for the ZE29A. The sensor needs roughly half a second
// after a command before it starts answering, a bit more for commands
// that change its configuration or state.
const (
	DefaultTimeout     = 3 * time.Second
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultWriteDelay  = 800 * time.Millisecond
	DefaultIdleWait    = 10 * time.Second
)

// Device is the ReadWriteCloser representation of a physical ZE29A
// sensor, attached either directly via a serial port or through a
// serial-over-TCP bridge.
type Device struct {
	conn         io.ReadWriteCloser
	r            *bufio.Reader
	rlock, wlock sync.Mutex
	cmdLock      sync.Mutex

	connected bool
	done      chan struct{}
	in        chan byte

	link string

	// Timeout bounds one whole response read (seek marker plus
	// accumulate). SettleDelay and WriteDelay are the pauses between
	// transmitting a command and expecting the reply. IdleWait bounds
	// the settle-into-idle polling before a new test is started.
	Timeout     time.Duration
	SettleDelay time.Duration
	WriteDelay  time.Duration
	IdleWait    time.Duration

	statusLock sync.Mutex
	status     SensorState
}

// NewDevice returns an unconnected Device with default timing.
func NewDevice() *Device {
	return &Device{
		Timeout:     DefaultTimeout,
		SettleDelay: DefaultSettleDelay,
		WriteDelay:  DefaultWriteDelay,
		IdleWait:    DefaultIdleWait,
	}
}

// Connect attaches to the sensor via serial device or a tcp socket.
// Use socket://[host]:[port] for TCP, a plain path or file:// URL for a
// local serial port. The port is opened at the sensor's fixed rate of
// 9600 8N1.
func (o *Device) Connect(link string) error {
	o.rlock.Lock()
	o.wlock.Lock()
	defer o.rlock.Unlock()
	defer o.wlock.Unlock()

	u, err := url.Parse(link)
	if err != nil {
		o.connected = false
		return err
	}

	var conn io.ReadWriteCloser
	if (u.Scheme == "socket") || (u.Scheme == "tcp") {
		conn, err = net.Dial("tcp", u.Host)
		if err != nil {
			return err
		}
		conn.(*net.TCPConn).SetKeepAlive(true)
		conn.(*net.TCPConn).SetKeepAlivePeriod(30 * time.Second)
	} else if (u.Scheme == "file") || (u.Scheme == "") {
		conn, err = serial.OpenPort(&serial.Config{Name: u.Path, Baud: 9600, Size: 8, Parity: serial.ParityNone, StopBits: serial.Stop1})
		if err != nil {
			return err
		}
	} else {
		o.connected = false
		return fmt.Errorf("can not find a valid connection string in %q", link)
	}

	o.link = link
	o.attach(conn)
	return nil
}

// attach wires an established connection and starts the read pump.
func (o *Device) attach(conn io.ReadWriteCloser) {
	o.conn = conn
	o.r = bufio.NewReader(conn)
	o.done = make(chan struct{})
	o.in = make(chan byte, 256)
	o.connected = true
	go o.readPump()
}

// Close closes the Device, closing the underlying serial or network
// connection.
func (o *Device) Close() error {
	o.rlock.Lock()
	o.wlock.Lock()
	defer o.rlock.Unlock()
	defer o.wlock.Unlock()

	if !o.connected {
		return io.ErrClosedPipe
	}
	o.connected = false
	close(o.done)
	return o.conn.Close()
}

// Reconnect re-establishes a dropped connection using the last
// connection string. It serializes with in-flight exchanges so the
// engine never observes a half-swapped connection.
func (o *Device) Reconnect() error {
	if o.link == "" {
		return fmt.Errorf("reconnect before connect")
	}
	o.cmdLock.Lock()
	defer o.cmdLock.Unlock()
	o.Close()
	return o.Connect(o.link)
}

// readPump moves bytes from the connection into the in channel until
// the connection fails or the Device is closed. The channels and the
// reader are captured up front: after a reconnect an old pump must
// keep draining its own connection, never the replacement's.
func (o *Device) readPump() {
	in := o.in
	done := o.done
	r := o.r
	b := make([]byte, 256)
	for {
		n, err := r.Read(b)
		if n > 0 {
			log.Debugf("read b='%# x', n=%v", b[:n], n)
			for i := 0; i < n; i++ {
				select {
				case in <- b[i]:
				case <-done:
					return
				}
			}
		}
		if err != nil {
			select {
			case <-done:
			default:
				log.Errorf("read pump: %v", err)
			}
			close(in)
			return
		}
	}
}

func (o *Device) write(b []byte) (int, error) {
	o.wlock.Lock()
	defer o.wlock.Unlock()
	if !o.connected {
		return 0, io.EOF
	}
	select {
	case <-o.done:
		return 0, io.EOF
	default:
		n, err := o.conn.Write(b)
		log.Debugf("write b='%# x', n=%v, err=%v", b, n, err)
		return n, err
	}
}

// drain discards bytes left over from a prior exchange so they cannot
// desynchronize the next response read.
func (o *Device) drain() int {
	n := 0
	for {
		select {
		case _, ok := <-o.in:
			if !ok {
				return n
			}
			n++
		default:
			if n > 0 {
				log.Debugf("drained %v stale bytes", n)
			}
			return n
		}
	}
}

// readFrame assembles one 9-byte frame candidate within the Timeout
// deadline. While no start marker has been seen every byte is
// discarded, which realigns frame boundaries after line noise or a
// partial earlier response. Validation of the candidate is left to the
// caller.
func (o *Device) readFrame() ([]byte, error) {
	buf := make([]byte, 0, FrameSize)
	deadline := time.After(o.Timeout)
	for {
		select {
		case b, ok := <-o.in:
			if !ok {
				return nil, io.EOF
			}
			if len(buf) == 0 && b != StartMarker {
				log.Debugf("discarding 0x%02x while seeking start marker", b)
				continue
			}
			buf = append(buf, b)
			if len(buf) == FrameSize {
				return buf, nil
			}
		case <-deadline:
			if len(buf) == 0 {
				return nil, ErrNoResponse
			}
			return nil, &PartialError{Received: buf}
		}
	}
}

// Status returns the last state the sensor itself confirmed,
// StateUnknown before the first successful state query.
func (o *Device) Status() SensorState {
	o.statusLock.Lock()
	defer o.statusLock.Unlock()
	return o.status
}

func (o *Device) setStatus(s SensorState) {
	o.statusLock.Lock()
	defer o.statusLock.Unlock()
	o.status = s
}

// ResultAvailable reports whether a completed measurement is waiting to
// be read, per the last confirmed state.
func (o *Device) ResultAvailable() bool {
	return o.Status() == StateResultReady
}
