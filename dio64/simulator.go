package dio64

import (
	"fmt"
	"log"
	"time"

	"github.com/labalyzer/labctl/status"
)

// status codes produced by the simulator
const (
	ErrBoardNotOpen   status.Code = -8
	ErrBoardOpen      status.Code = -9
	ErrNotLoaded      status.Code = -12
	ErrBadBufferSize  status.Code = -14
	ErrNotOutputReady status.Code = -17
)

var simulatorErrors = map[status.Code]string{
	ErrBoardNotOpen:   "board is not open",
	ErrBoardOpen:      "board is already open",
	ErrNotLoaded:      "no FPGA program loaded",
	ErrBadBufferSize:  "buffer is not a whole number of scans",
	ErrNotOutputReady: "output is not configured",
}

type simBoard struct {
	open      bool
	loaded    bool
	attrs     map[uint32]uint32
	cfg       *OutConfig
	written   []uint16
	started   time.Time
	running   bool
	forced    [4]uint16
	forcedAny bool
}

// Simulator is a Driver with no hardware behind it.  While output runs, the
// status reports ticks elapsed on the wall clock at the configured rate.
type Simulator struct {
	log    *log.Logger
	boards map[uint16]*simBoard
	calls  []string

	// Now is the clock used for output timing
	Now func() time.Time

	// Inject maps a call name (e.g. "DIO64_Out_Start") to a status that call
	// will return instead of performing its work
	Inject map[string]status.Code
}

// NewSimulator creates a new simulated driver
func NewSimulator(l *log.Logger) *Simulator {
	if l == nil {
		l = log.Default()
	}
	return &Simulator{
		log:    l,
		boards: make(map[uint16]*simBoard),
		Now:    time.Now,
		Inject: make(map[string]status.Code),
	}
}

func (s *Simulator) record(call string, board uint16) (status.Code, bool) {
	s.calls = append(s.calls, fmt.Sprintf("%s(%d)", call, board))
	if code, ok := s.Inject[call]; ok {
		return code, true
	}
	return status.OK, false
}

func (s *Simulator) board(b uint16) (*simBoard, status.Code) {
	brd, ok := s.boards[b]
	if !ok || !brd.open {
		return nil, ErrBoardNotOpen
	}
	return brd, status.OK
}

// Calls returns every call made to the simulator, in order, formatted as
// Name(board)
func (s *Simulator) Calls() []string {
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Written returns the last buffer written to a board
func (s *Simulator) Written(b uint16) []uint16 {
	if brd, ok := s.boards[b]; ok {
		return brd.written
	}
	return nil
}

// Forced returns the port values last forced on a board
func (s *Simulator) Forced(b uint16) ([4]uint16, bool) {
	if brd, ok := s.boards[b]; ok {
		return brd.forced, brd.forcedAny
	}
	return [4]uint16{}, false
}

// IsOpen returns true if the board is open
func (s *Simulator) IsOpen(b uint16) bool {
	brd, ok := s.boards[b]
	return ok && brd.open
}

// ErrorString returns the text for a status code
func (s *Simulator) ErrorString(c status.Code) string {
	if msg, ok := simulatorErrors[c]; ok {
		return msg
	}
	return fmt.Sprintf("simulated status %d", c)
}

// Open opens a simulated board
func (s *Simulator) Open(board uint16, baseIO uint16) status.Code {
	if code, injected := s.record("DIO64_Open", board); injected {
		return code
	}
	if brd, ok := s.boards[board]; ok && brd.open {
		return ErrBoardOpen
	}
	s.boards[board] = &simBoard{open: true, attrs: make(map[uint32]uint32)}
	return status.OK
}

// Close closes a simulated board
func (s *Simulator) Close(board uint16) status.Code {
	if code, injected := s.record("DIO64_Close", board); injected {
		return code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return code
	}
	brd.open = false
	brd.running = false
	return status.OK
}

// Load marks the board programmed
func (s *Simulator) Load(board uint16, rbf string, inputHint, outputHint int) status.Code {
	if code, injected := s.record("DIO64_Load", board); injected {
		return code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return code
	}
	brd.loaded = true
	return status.OK
}

// SetAttr stores an attribute
func (s *Simulator) SetAttr(board uint16, attr uint32, value uint32) status.Code {
	if code, injected := s.record("DIO64_SetAttr", board); injected {
		return code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return code
	}
	brd.attrs[attr] = value
	return status.OK
}

// OutConfig stores the output configuration
func (s *Simulator) OutConfig(board uint16, cfg OutConfig) (float64, status.Code) {
	if code, injected := s.record("DIO64_Out_Config", board); injected {
		return 0, code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return 0, code
	}
	if !brd.loaded {
		return 0, ErrNotLoaded
	}
	brd.cfg = &cfg
	return BaseClockHz / float64(cfg.Ticks+1), status.OK
}

func (s *Simulator) elapsed(brd *simBoard) uint32 {
	if !brd.running || brd.cfg == nil {
		return 0
	}
	rate := BaseClockHz / float64(brd.cfg.Ticks+1)
	return uint32(s.Now().Sub(brd.started).Seconds() * rate)
}

// OutStart begins simulated playback
func (s *Simulator) OutStart(board uint16) status.Code {
	if code, injected := s.record("DIO64_Out_Start", board); injected {
		return code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return code
	}
	if brd.cfg == nil {
		return ErrNotOutputReady
	}
	brd.started = s.Now()
	brd.running = true
	s.log.Printf("simulated DIO64 board %d started", board)
	return status.OK
}

// OutStatus reports ticks elapsed since OutStart
func (s *Simulator) OutStatus(board uint16) (uint32, OutStat, status.Code) {
	if code, injected := s.record("DIO64_Out_Status", board); injected {
		return 0, OutStat{}, code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return 0, OutStat{}, code
	}
	dt := s.elapsed(brd)
	st := OutStat{Time: [2]uint16{uint16(dt & 0xFFFF), uint16(dt >> 16)}, Ticks: dt, PortCount: 4}
	return 0, st, status.OK
}

// OutWrite stores the buffer
func (s *Simulator) OutWrite(board uint16, buf []uint16, scans uint32) (OutStat, status.Code) {
	if code, injected := s.record("DIO64_Out_Write", board); injected {
		return OutStat{}, code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return OutStat{}, code
	}
	if brd.cfg == nil {
		return OutStat{}, ErrNotOutputReady
	}
	if int(scans)*WordsPerScan != len(buf) {
		return OutStat{}, ErrBadBufferSize
	}
	brd.written = append([]uint16(nil), buf...)
	return OutStat{PortCount: 4}, status.OK
}

// OutStop stops simulated playback
func (s *Simulator) OutStop(board uint16) status.Code {
	if code, injected := s.record("DIO64_Out_Stop", board); injected {
		return code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return code
	}
	brd.running = false
	return status.OK
}

// OutForceOutput stores the forced values of the ports in mask
func (s *Simulator) OutForceOutput(board uint16, buf [4]uint16, mask uint32) status.Code {
	if code, injected := s.record("DIO64_Out_ForceOutput", board); injected {
		return code
	}
	brd, code := s.board(board)
	if code != status.OK {
		return code
	}
	for p := 0; p < 4; p++ {
		if mask&(1<<uint(p)) != 0 {
			brd.forced[p] = buf[p]
		}
	}
	brd.forcedAny = true
	return status.OK
}
