/*Package comm provides connection pooling and stream wrappers for talking to
lab hardware over TCP, RS232 and USB.

Most usages of this package boil down to:
	1.  pick a CreationFunc (BackingOffTCPConnMaker, SerialConnMaker, USBConnMaker)
	2.  put it in a Pool with NewPool
	3.  Get a connection, wrap it in a Timeout and a Terminator, and do I/O
	4.  hand it back with ReturnWithError so broken connections are not reused

A minimal example for a device that answers "RD?" with a line of text:

	pool := comm.NewPool(1, 10*time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	conn, err := pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	term := comm.NewTerminator(conn, '\n', '\n')
	_, err = term.Write([]byte("RD?"))
	if err != nil {
		return "", err
	}
	return term.ReadLine()
*/
package comm

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when I/O is attempted on a nil connection
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr with an
// exponential backoff.  Refused connections are not retried; the remote is
// there and does not want us.  Timeouts are retried until about three seconds
// have elapsed.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := TCPSetup(addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc which opens an RS232 port with
// 8N1 framing at the given baud rate
func SerialConnMaker(name string, baud int) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(&serial.Config{
			Name:        name,
			Baud:        baud,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
			ReadTimeout: 5 * time.Second})
	}
}

// Terminator wraps a stream with line termination.  Write appends the Tx
// terminator, Read consumes up to and including the Rx terminator and strips it.
//
// A Terminator buffers reads; do not read the underlying stream directly while
// the Terminator is in use.
type Terminator struct {
	rw io.ReadWriter
	br *bufio.Reader
	tx byte
	rx byte
}

// NewTerminator returns a Terminator wrapping rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), rx: rx, tx: tx}
}

// Write writes b followed by the Tx terminator.  The returned count excludes
// the terminator
func (t *Terminator) Write(b []byte) (int, error) {
	buf := make([]byte, len(b), len(b)+1)
	copy(buf, b)
	buf = append(buf, t.tx)
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads one terminated message into b.  If b is too small the message is
// truncated.
func (t *Terminator) Read(b []byte) (int, error) {
	line, err := t.readTerminated()
	n := copy(b, line)
	return n, err
}

// ReadLine reads one terminated message and returns it as a string
func (t *Terminator) ReadLine() (string, error) {
	line, err := t.readTerminated()
	return string(line), err
}

// ReadFull reads exactly n bytes, ignoring terminators
func (t *Terminator) ReadFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(t.br, buf)
	return buf, err
}

func (t *Terminator) readTerminated() ([]byte, error) {
	buf, err := t.br.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return buf, err
	}
	return buf[:len(buf)-1], nil
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Timeout wraps a stream and refreshes its deadline before every Read and
// Write, so each operation individually has the given budget
type Timeout struct {
	rw      io.ReadWriter
	d       deadliner
	timeout time.Duration
}

// NewTimeout returns a Timeout wrapping rw.  If rw does not support deadlines
// (serial ports, USB endpoints) the wrapper passes I/O through unchanged.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (*Timeout, error) {
	if rw == nil {
		return nil, ErrNotConnected
	}
	t := &Timeout{rw: rw, timeout: timeout}
	if d, ok := rw.(deadliner); ok {
		t.d = d
	}
	return t, nil
}

func (t *Timeout) refresh() error {
	if t.d == nil {
		return nil
	}
	return t.d.SetDeadline(time.Now().Add(t.timeout))
}

// Read implements io.Reader
func (t *Timeout) Read(b []byte) (int, error) {
	if err := t.refresh(); err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}

// Write implements io.Writer
func (t *Timeout) Write(b []byte) (int, error) {
	if err := t.refresh(); err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}
