//go:build dio64 && cgo

package dio64

/*
#cgo LDFLAGS: -ldio64_32
#include <stdlib.h>
#include "dio64_32.h"
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/labalyzer/labctl/status"
)

// error texts from the DIO64 programming manual
var nativeErrors = map[status.Code]string{
	-8:  "board not open",
	-9:  "board already open",
	-12: "FPGA program could not be loaded",
	-14: "invalid buffer size",
	-17: "output not configured",
}

type native struct{}

func openNative() (Driver, error) {
	// the library is linked in; nothing else to probe without touching a board
	return native{}, nil
}

func (native) ErrorString(c status.Code) string {
	if s, ok := nativeErrors[c]; ok {
		return s
	}
	return fmt.Sprintf("DIO64 status %d", c)
}

func convertStat(s C.DIO64STAT) OutStat {
	return OutStat{
		PktSize:      uint16(s.pktsize),
		PortCount:    uint16(s.portCount),
		WritePtr:     uint16(s.writePtr),
		ReadPtr:      uint16(s.readPtr),
		Time:         [2]uint16{uint16(s.time[0]), uint16(s.time[1])},
		FifoSize:     uint32(s.fifoSize),
		Fifo0:        uint16(s.fifo0),
		Ticks:        uint32(s.ticks),
		Flags:        uint16(s.flags),
		ClkControl:   uint16(s.clkControl),
		StartControl: uint16(s.startControl),
		StopControl:  uint16(s.stopControl),
		AIControl:    uint32(s.AIControl),
		AICurrent:    uint16(s.AICurrent),
		StartTime:    [2]uint16{uint16(s.startTime[0]), uint16(s.startTime[1])},
		StopTime:     [2]uint16{uint16(s.stopTime[0]), uint16(s.stopTime[1])},
		User:         [4]uint16{uint16(s.user[0]), uint16(s.user[1]), uint16(s.user[2]), uint16(s.user[3])},
	}
}

func (native) Open(board uint16, baseIO uint16) status.Code {
	return status.Code(C.DIO64_Open(C.WORD(board), C.WORD(baseIO)))
}

func (native) Close(board uint16) status.Code {
	return status.Code(C.DIO64_Close(C.WORD(board)))
}

func (native) Load(board uint16, rbf string, inputHint, outputHint int) status.Code {
	crbf := C.CString(rbf)
	defer C.free(unsafe.Pointer(crbf))
	return status.Code(C.DIO64_Load(C.WORD(board), crbf, C.int(inputHint), C.int(outputHint)))
}

func (native) SetAttr(board uint16, attr uint32, value uint32) status.Code {
	return status.Code(C.DIO64_SetAttr(C.WORD(board), C.DWORD(attr), C.DWORD(value)))
}

func (native) OutConfig(board uint16, cfg OutConfig) (float64, status.Code) {
	var mask [4]C.WORD
	for i, m := range cfg.Mask {
		mask[i] = C.WORD(m)
	}
	var rate C.double
	code := C.DIO64_Out_Config(C.WORD(board), C.DWORD(cfg.Ticks), &mask[0], C.WORD(len(mask)),
		C.WORD(cfg.Flags), C.WORD(cfg.ClkControl), C.WORD(cfg.StartType), C.WORD(cfg.StartSource),
		C.WORD(cfg.StopType), C.WORD(cfg.StopSource), C.DWORD(cfg.AIControl), C.DWORD(cfg.Reps),
		C.WORD(cfg.NTrans), &rate)
	return float64(rate), status.Code(code)
}

func (native) OutStart(board uint16) status.Code {
	return status.Code(C.DIO64_Out_Start(C.WORD(board)))
}

func (native) OutStatus(board uint16) (uint32, OutStat, status.Code) {
	var avail C.DWORD
	var st C.DIO64STAT
	code := C.DIO64_Out_Status(C.WORD(board), &avail, &st)
	return uint32(avail), convertStat(st), status.Code(code)
}

func (native) OutWrite(board uint16, buf []uint16, scans uint32) (OutStat, status.Code) {
	var st C.DIO64STAT
	if len(buf) == 0 {
		return OutStat{}, status.OK
	}
	code := C.DIO64_Out_Write(C.WORD(board), (*C.WORD)(unsafe.Pointer(&buf[0])), C.DWORD(scans), &st)
	return convertStat(st), status.Code(code)
}

func (native) OutStop(board uint16) status.Code {
	return status.Code(C.DIO64_Out_Stop(C.WORD(board)))
}

func (native) OutForceOutput(board uint16, buf [4]uint16, mask uint32) status.Code {
	var cbuf [4]C.WORD
	for i, v := range buf {
		cbuf[i] = C.WORD(v)
	}
	return status.Code(C.DIO64_Out_ForceOutput(C.WORD(board), &cbuf[0], C.DWORD(mask)))
}
