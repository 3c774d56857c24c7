//go:build daqmx && cgo

package daqmx

/*
#cgo LDFLAGS: -lnidaqmx
#include <stdlib.h>
#include <NIDAQmx.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/labalyzer/labctl/status"
)

// errStringLen is the buffer size used for DAQmxGetErrorString
const errStringLen = 2048

// native is the Driver backed by the NI-DAQmx C library.  Handles given to
// callers are small integers; the C handles never leave this file.
type native struct {
	next    TaskHandle
	handles map[TaskHandle]C.TaskHandle
}

func openNative() (Driver, error) {
	var major C.uInt32
	code := status.Code(C.DAQmxGetSysNIDAQMajorVersion(&major))
	if code.IsError() {
		return nil, fmt.Errorf("NI-DAQmx version query returned %d", code)
	}
	return &native{handles: make(map[TaskHandle]C.TaskHandle)}, nil
}

func (n *native) ErrorString(c status.Code) string {
	buf := (*C.char)(C.malloc(errStringLen))
	defer C.free(unsafe.Pointer(buf))
	C.DAQmxGetErrorString(C.int32(c), buf, errStringLen)
	return C.GoString(buf)
}

func (n *native) handle(t TaskHandle) (C.TaskHandle, status.Code) {
	h, ok := n.handles[t]
	if !ok {
		return nil, ErrInvalidTask
	}
	return h, status.OK
}

func (n *native) CreateTask(name string) (TaskHandle, status.Code) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var h C.TaskHandle
	code := status.Code(C.DAQmxCreateTask(cname, &h))
	if code.IsError() {
		return 0, code
	}
	n.next++
	n.handles[n.next] = h
	return n.next, code
}

func (n *native) CreateAOVoltageChan(t TaskHandle, physicalChannel string, min, max float64) status.Code {
	h, code := n.handle(t)
	if code != status.OK {
		return code
	}
	cphys := C.CString(physicalChannel)
	defer C.free(unsafe.Pointer(cphys))
	return status.Code(C.DAQmxCreateAOVoltageChan(h, cphys, nil,
		C.float64(min), C.float64(max), C.int32(volts), nil))
}

func (n *native) CfgSampClkTiming(t TaskHandle, source string, rate float64, edge Edge, mode SampleMode, sampsPerChan uint64) status.Code {
	h, code := n.handle(t)
	if code != status.OK {
		return code
	}
	csrc := C.CString(source)
	defer C.free(unsafe.Pointer(csrc))
	return status.Code(C.DAQmxCfgSampClkTiming(h, csrc, C.float64(rate),
		C.int32(edge), C.int32(mode), C.uInt64(sampsPerChan)))
}

func (n *native) CfgOutputBuffer(t TaskHandle, size uint32) status.Code {
	h, code := n.handle(t)
	if code != status.OK {
		return code
	}
	return status.Code(C.DAQmxCfgOutputBuffer(h, C.uInt32(size)))
}

func (n *native) SetAODataXferMech(t TaskHandle, channel string, mech TransferMechanism) status.Code {
	h, code := n.handle(t)
	if code != status.OK {
		return code
	}
	cch := C.CString(channel)
	defer C.free(unsafe.Pointer(cch))
	return status.Code(C.DAQmxSetAODataXferMech(h, cch, C.int32(mech)))
}

func (n *native) WriteAnalogF64(t TaskHandle, sampsPerChan int, autoStart bool, timeout float64, layout DataLayout, data []float64) (int, status.Code) {
	h, code := n.handle(t)
	if code != status.OK {
		return 0, code
	}
	if len(data) == 0 {
		return 0, status.OK
	}
	var auto C.bool32
	if autoStart {
		auto = 1
	}
	var written C.int32
	code = status.Code(C.DAQmxWriteAnalogF64(h, C.int32(sampsPerChan), auto,
		C.float64(timeout), C.bool32(layout),
		(*C.float64)(unsafe.Pointer(&data[0])), &written, nil))
	return int(written), code
}

func (n *native) StartTask(t TaskHandle) status.Code {
	h, code := n.handle(t)
	if code != status.OK {
		return code
	}
	return status.Code(C.DAQmxStartTask(h))
}

func (n *native) StopTask(t TaskHandle) status.Code {
	h, code := n.handle(t)
	if code != status.OK {
		return code
	}
	return status.Code(C.DAQmxStopTask(h))
}

func (n *native) ClearTask(t TaskHandle) status.Code {
	h, code := n.handle(t)
	if code != status.OK {
		return code
	}
	code = status.Code(C.DAQmxClearTask(h))
	if !code.IsError() {
		delete(n.handles, t)
	}
	return code
}
