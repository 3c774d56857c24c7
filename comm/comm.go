/*Package comm provides connection pooling and framing for instruments reached
over TCP, RS-232, or USB.

A Pool hands out connections made by a CreationFunc, reuses them while they
are busy, and closes idle ones after a timeout.  Makers for TCP and serial
links are provided; other transports supply their own.

	pool := comm.NewPool(1, 30*time.Second, comm.TCPMaker("192.168.100.2:5025", 3*time.Second))
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), time.Second)
	...
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// ErrTerminatorNotFound is generated when the termination byte is not found in a response
var ErrTerminatorNotFound = errors.New("termination byte not found")

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

func dialBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// TCPMaker returns a CreationFunc that dials addr with an exponential
// backoff.  Instruments often drop connection attempts that arrive too
// quickly after the last one closed.  A refused connection is not retried.
func TCPMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var (
			conn    net.Conn
			refused error
		)
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					refused = err
					return nil
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, dialBackOff())
		if refused != nil {
			return nil, refused
		}
		if err != nil {
			return nil, fmt.Errorf("connection timeout to %s: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialMaker returns a CreationFunc that opens a serial port
func SerialMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// Terminator appends a transmit terminator to every write, and reads up to
// and excluding a receive terminator
type Terminator struct {
	rw     io.ReadWriter
	br     *bufio.Reader
	tx, rx byte
}

// NewTerminator wraps rw
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), tx: tx, rx: rx}
}

// Write writes p followed by the transmit terminator, unless p already ends
// with it.  The returned count excludes the terminator.
func (t *Terminator) Write(p []byte) (int, error) {
	if len(p) > 0 && p[len(p)-1] == t.tx {
		return t.rw.Write(p)
	}
	buf := make([]byte, len(p), len(p)+1)
	copy(buf, p)
	n, err := t.rw.Write(append(buf, t.tx))
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read reads one message, stripping the receive terminator.  If the message
// does not fit in p, io.ErrShortBuffer is returned with p filled.
func (t *Terminator) Read(p []byte) (int, error) {
	buf, err := t.br.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			n := copy(p, buf)
			return n, ErrTerminatorNotFound
		}
		return 0, err
	}
	buf = buf[:len(buf)-1]
	n := copy(p, buf)
	if n < len(buf) {
		return n, io.ErrShortBuffer
	}
	return n, nil
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Timeout bounds the reads and writes of a transaction.  On connections
// that support deadlines a single deadline covering the whole transaction is
// set when the Timeout is made; other connections rely on their own timeouts.
type Timeout struct {
	rw io.ReadWriter
}

// NewTimeout wraps rw, setting a deadline d from now on the connection
// underneath if it supports one.  Wrappers from this package are seen through.
func NewTimeout(rw io.ReadWriter, d time.Duration) (*Timeout, error) {
	inner := rw
	if t, ok := inner.(*Terminator); ok {
		inner = t.rw
	}
	if dl, ok := inner.(deadliner); ok {
		if err := dl.SetDeadline(time.Now().Add(d)); err != nil {
			return nil, err
		}
	}
	return &Timeout{rw: rw}, nil
}

func (t *Timeout) Read(p []byte) (int, error) { return t.rw.Read(p) }

func (t *Timeout) Write(p []byte) (int, error) { return t.rw.Write(p) }
