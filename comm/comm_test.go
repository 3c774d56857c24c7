package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/labalyzer/labctl/comm"
)

type fakeConn struct {
	bytes.Buffer
	mu     sync.Mutex
	closed bool
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type counter struct {
	mu    sync.Mutex
	made  []*fakeConn
	fails bool
}

func (c *counter) maker() (io.ReadWriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fails {
		return nil, errors.New("dial failed")
	}
	f := &fakeConn{}
	c.made = append(c.made, f)
	return f, nil
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.made)
}

func TestPoolReusesConnections(t *testing.T) {
	c := &counter{}
	pool := comm.NewPool(2, time.Hour, c.maker)
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		pool.Put(conn)
	}
	if c.count() != 1 {
		t.Errorf("expected one connection made and reused, got %d", c.count())
	}
	if pool.Active() != 0 || pool.Size() != 1 {
		t.Errorf("expected 0 active and size 1, got %d, %d", pool.Active(), pool.Size())
	}
}

func TestPoolGrowsToCapacity(t *testing.T) {
	c := &counter{}
	pool := comm.NewPool(3, time.Hour, c.maker)
	var conns []io.ReadWriter
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		conns = append(conns, conn)
	}
	if pool.Active() != 3 || c.count() != 3 {
		t.Errorf("expected 3 connections on lease, got %d made %d", pool.Active(), c.count())
	}
	got := make(chan io.ReadWriter)
	go func() {
		conn, _ := pool.Get()
		got <- conn
	}()
	pool.Put(conns[0])
	select {
	case conn := <-got:
		if conn != conns[0] {
			t.Error("expected the waiting Get to receive the returned connection")
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock when a connection was returned")
	}
}

func TestPoolReturnWithError(t *testing.T) {
	c := &counter{}
	pool := comm.NewPool(1, time.Hour, c.maker)
	conn, _ := pool.Get()
	pool.ReturnWithError(conn, errors.New("garbled"))
	if !c.made[0].isClosed() {
		t.Error("expected connection destroyed after error")
	}
	conn, _ = pool.Get()
	pool.ReturnWithError(conn, nil)
	if c.count() != 2 || c.made[1].isClosed() {
		t.Error("expected a new connection made and kept")
	}
}

func TestPoolMakerError(t *testing.T) {
	c := &counter{fails: true}
	pool := comm.NewPool(1, time.Hour, c.maker)
	if _, err := pool.Get(); err == nil {
		t.Fatal("expected maker error")
	}
	if pool.Active() != 0 {
		t.Errorf("expected failed dial not to hold a lease, got %d", pool.Active())
	}
}

func TestPoolReclaimsIdle(t *testing.T) {
	c := &counter{}
	pool := comm.NewPool(1, 10*time.Millisecond, c.maker)
	conn, _ := pool.Get()
	pool.Put(conn)
	deadline := time.Now().Add(time.Second)
	for !c.made[0].isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("idle connection was not reclaimed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if pool.Size() != 0 {
		t.Errorf("expected empty pool, got %d", pool.Size())
	}
}

func TestTerminator(t *testing.T) {
	var buf bytes.Buffer
	term := comm.NewTerminator(&buf, '\n', '\r')
	n, err := term.Write([]byte("FREQ 1e9"))
	if err != nil || n != 8 {
		t.Fatalf("expected 8 bytes written, got %d, %v", n, err)
	}
	if buf.String() != "FREQ 1e9\n" {
		t.Errorf("expected terminator appended, got %q", buf.String())
	}
	buf.Reset()
	buf.WriteString("+1.5\r+2\r")
	p := make([]byte, 32)
	n, err = term.Read(p)
	if err != nil || string(p[:n]) != "+1.5" {
		t.Errorf("expected +1.5, got %q, %v", p[:n], err)
	}
	n, _ = term.Read(p)
	if string(p[:n]) != "+2" {
		t.Errorf("expected second message +2, got %q", p[:n])
	}
}

func TestTerminatorMissing(t *testing.T) {
	term := comm.NewTerminator(bytes.NewBufferString("partial"), '\n', '\n')
	p := make([]byte, 32)
	_, err := term.Read(p)
	if !errors.Is(err, comm.ErrTerminatorNotFound) {
		t.Errorf("expected ErrTerminatorNotFound, got %v", err)
	}
}

func TestTCPMakerEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("cannot listen on loopback:", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	pool := comm.NewPool(1, time.Second, comm.TCPMaker(ln.Addr().String(), time.Second))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Put(conn)
	wrap, err := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(wrap, "*IDN?"); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 64)
	n, err := wrap.Read(p)
	if err != nil || string(p[:n]) != "*IDN?" {
		t.Errorf("expected echo of *IDN?, got %q, %v", p[:n], err)
	}
}
