/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices.  This is a 'minimum viable product' for the bulk
transfer mode.

It does not, for example, include features to support multi-packet
messaging, and thus assumes your data fits in the remote's buffer.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Allocate a receipt buffer
2.  Create a read header and send it on the Out endpoint
3.  Read from the In endpoint

These are implemented as Write and Read on USBDevice, which is an
io.ReadWriteCloser and can back a comm.Pool.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

const (
	// reserved is the byte to insert when the field is reserved
	reserved = 0x00

	headerSize = 12

	msgOut   = 0x01 // DEV_DEP_MSG_OUT
	msgInReq = 0x02 // REQUEST_DEV_DEP_MSG_IN

	bufSize = 1500
)

// BTagger can generate atomic bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator, cycling through 1..255
type bTagGen struct {
	// embedded mutex for concurrent safety
	sync.Mutex

	value byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{}
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(btag BTagger, datalen int) [headerSize]byte {
	/* data map by offset:
	0 MsgID
	1 bTag, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	out := [headerSize]byte{}
	tag := btag.nextbTag()
	out[0] = msgOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // always end of message
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, puts 0x00 in the header and sets the bit to use it to false
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [headerSize]byte {
	/* this differs from BulkOut by bytes 8~11
	8 bitmap, bit 1 termination character enabled
	9 terminator byte
	10~11 reserved
	*/
	out := [headerSize]byte{}
	tag := btag.nextbTag()
	out[0] = msgInReq
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	return out
}

// decBulkInHeader returns the transfer size of a DEV_DEP_MSG_IN response
func decBulkInHeader(hdr []byte) (int, error) {
	if len(hdr) < headerSize {
		return 0, fmt.Errorf("only received %d bytes, need at least %d to form header", len(hdr), headerSize)
	}
	if hdr[0] != msgInReq {
		return 0, fmt.Errorf("unexpected MsgID %d in bulk in header", hdr[0])
	}
	if hdr[2] != invbTag(hdr[1]) {
		return 0, fmt.Errorf("bTag %d does not match its inverse %d", hdr[1], hdr[2])
	}
	return int(binary.LittleEndian.Uint32(hdr[4:8])), nil
}

// pad extends b to a multiple of 4 bytes
func pad(b []byte) []byte {
	const alignment = 4
	if residual := len(b) % alignment; residual > 0 {
		b = append(b, make([]byte, alignment-residual)...)
	}
	return b
}

// USBDevice is a struct hiding the details of USB and exposing an io.ReadWriteCloser interface
type USBDevice struct {
	tagger BTagger
	term   byte
	ctx    *gousb.Context
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	device *gousb.Device
	closer func()
}

// NewUSBDevice opens a USB device from its vendor and product ID.  Messages
// read from the device end with '\n'.
func NewUSBDevice(vid, pid uint16) (*USBDevice, error) {
	d := &USBDevice{tagger: newBTagGen(), term: '\n', ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("no USB device with VID %04x PID %04x", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	iface, closer, err := d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closer = closer
	d.in, err = iface.InEndpoint(2)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.out, err = iface.OutEndpoint(2)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Read requests a message from the device and copies its payload into p
func (d *USBDevice) Read(p []byte) (int, error) {
	hdr := encBulkInHeader(d.tagger, bufSize, &d.term)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return 0, err
	}
	buf := make([]byte, bufSize+headerSize)
	n, err := d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	size, err := decBulkInHeader(buf[:n])
	if err != nil {
		return 0, err
	}
	data := buf[headerSize:n]
	if size < len(data) {
		data = data[:size] // strip alignment
	}
	return copy(p, data), nil
}

// Write sends p as one message
func (d *USBDevice) Write(p []byte) (int, error) {
	hdr := encBulkOutHeader(d.tagger, len(p))
	b := pad(append(hdr[:], p...))
	if _, err := d.out.Write(b); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the device
func (d *USBDevice) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if cerr := d.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}
