package scpi

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/labalyzer/labctl/comm"
)

// instrument answers queries with canned responses and records every line
type instrument struct {
	ln    net.Listener
	lines chan string
	reply map[string]string
}

func newInstrument(t *testing.T, reply map[string]string) *instrument {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("cannot listen on loopback:", err)
	}
	in := &instrument{ln: ln, lines: make(chan string, 64), reply: reply}
	go in.serve()
	t.Cleanup(func() { ln.Close() })
	return in
}

func (in *instrument) serve() {
	for {
		conn, err := in.ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			r := bufio.NewReader(c)
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				line = strings.TrimSuffix(line, "\n")
				in.lines <- line
				if resp, ok := in.reply[line]; ok {
					io.WriteString(c, resp+"\n")
				}
			}
		}(conn)
	}
}

func (in *instrument) pool() *comm.Pool {
	return comm.NewPool(1, time.Second, comm.TCPMaker(in.ln.Addr().String(), time.Second))
}

func TestWriteSendsLine(t *testing.T) {
	in := newInstrument(t, nil)
	s := New(in.pool(), 0, false)
	if err := s.Write("FREQ:STAR", "1e8"); err != nil {
		t.Fatal(err)
	}
	if got := <-in.lines; got != "FREQ:STAR 1e8" {
		t.Errorf("expected FREQ:STAR 1e8, got %q", got)
	}
}

func TestReadString(t *testing.T) {
	in := newInstrument(t, map[string]string{"*IDN?": "Rohde&Schwarz,SMB100A,1406.6000k03/123456,3.1.19.15-3.20.390.24\r"})
	s := New(in.pool(), 0, false)
	idn, err := s.ReadString("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(idn, "Rohde&Schwarz") || strings.HasSuffix(idn, "\r") {
		t.Errorf("unexpected identity %q", idn)
	}
}

func TestHandshakeError(t *testing.T) {
	in := newInstrument(t, map[string]string{
		"*CLS; POW 99 ;:SYSTem:ERRor?": `-222,"Data out of range"`,
		"*CLS; POW -3 ;:SYSTem:ERRor?": `0,"No error"`,
	})
	s := New(in.pool(), 0, true)
	if err := s.Write("POW -3"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	err := s.Write("POW 99")
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("expected device error, got %v", err)
	}
}

func TestReadFloat(t *testing.T) {
	in := newInstrument(t, map[string]string{"FREQ?": "1500000000"})
	s := New(in.pool(), 0, false)
	f, err := s.ReadFloat("FREQ?")
	if err != nil || f != 1.5e9 {
		t.Errorf("expected 1.5e9, got %g, %v", f, err)
	}
}

func TestRateLimit(t *testing.T) {
	in := newInstrument(t, nil)
	s := New(in.pool(), 20*time.Millisecond, false)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.Write("*TRG"); err != nil {
			t.Fatal(err)
		}
	}
	if el := time.Since(start); el < 35*time.Millisecond {
		t.Errorf("expected three commands to take at least two intervals, took %s", el)
	}
}
