package wltest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

const headerSize = 8

// maxMessageSize is the largest message the 16-bit size field can describe.
const maxMessageSize = 0xffff

var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// Conn frames Wayland messages on the compositor side of a unix stream
// socket.
type Conn struct {
	conn   *net.UnixConn
	sendMu sync.Mutex

	// fds received out of band, consumed in order by Event.FD
	fds []int

	header [headerSize]byte
	oob    []byte
}

// NewConn wraps an already connected unix socket.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		conn: c,
		oob:  make([]byte, unix.CmsgSpace(28*4)),
	}
}

// UnixConn returns the underlying socket.
func (c *Conn) UnixConn() *net.UnixConn {
	return c.conn
}

// Close closes the socket and any received descriptors nobody claimed.
func (c *Conn) Close() error {
	for _, fd := range c.fds {
		_ = unix.Close(fd)
	}
	c.fds = nil
	return c.conn.Close()
}

// WriteMessage marshals and sends a single event. Arguments are uint32,
// int32 or string.
func (c *Conn) WriteMessage(objectID uint32, opcode uint16, args ...interface{}) error {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	var header [headerSize]byte
	_, _ = buf.Write(header[:])

	for _, arg := range args {
		if err := marshalArg(buf, arg); err != nil {
			return fmt.Errorf("failed to marshal argument: %w", err)
		}
	}

	if buf.Len() > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", buf.Len())
	}

	data := buf.Bytes()
	size := uint32(len(data))
	binary.NativeEndian.PutUint32(data[0:4], objectID)
	binary.NativeEndian.PutUint32(data[4:8], size<<16|uint32(opcode))

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.conn.Write(data)
	return err
}

func marshalArg(buf *bytes.Buffer, arg interface{}) error {
	switch v := arg.(type) {
	case uint32:
		return binary.Write(buf, binary.NativeEndian, v)
	case int32:
		return binary.Write(buf, binary.NativeEndian, v)
	case string:
		// length includes the NUL terminator, body is padded to 32 bits
		strlen := len(v) + 1
		if err := binary.Write(buf, binary.NativeEndian, uint32(strlen)); err != nil {
			return err
		}
		_, _ = buf.WriteString(v)
		_ = buf.WriteByte(0)
		for i := 0; i < padding(strlen); i++ {
			_ = buf.WriteByte(0)
		}
	default:
		return fmt.Errorf("unsupported argument type: %T", arg)
	}
	return nil
}

func padding(n int) int {
	return (4 - n%4) % 4
}

// ReadMessage blocks until one complete request has arrived.
func (c *Conn) ReadMessage() (*Event, error) {
	if err := c.readFull(c.header[:]); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	objectID := binary.NativeEndian.Uint32(c.header[0:4])
	sizeOpcode := binary.NativeEndian.Uint32(c.header[4:8])
	size := int(sizeOpcode >> 16)
	if size < headerSize {
		return nil, fmt.Errorf("invalid message size %d for object %d", size, objectID)
	}

	body := make([]byte, size-headerSize)
	if len(body) > 0 {
		if err := c.readFull(body); err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
	}

	return &Event{
		ProxyID: objectID,
		Opcode:  uint16(sizeOpcode & 0xffff),
		data:    body,
		conn:    c,
	}, nil
}

// readFull fills buf, collecting any descriptors delivered on the way.
func (c *Conn) readFull(buf []byte) error {
	for read := 0; read < len(buf); {
		n, oobn, _, _, err := c.conn.ReadMsgUnix(buf[read:], c.oob)
		if oobn > 0 {
			if perr := c.parseRights(c.oob[:oobn]); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		read += n
	}
	return nil
}

func (c *Conn) parseRights(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("parse control message: %w", err)
	}
	for i := range scms {
		if scms[i].Header.Level != unix.SOL_SOCKET || scms[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scms[i])
		if err != nil {
			return fmt.Errorf("parse unix rights: %w", err)
		}
		c.fds = append(c.fds, fds...)
	}
	return nil
}

func (c *Conn) nextFD() (int, bool) {
	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

// ErrShortEvent is returned by Event.Err when a read ran past the body.
var ErrShortEvent = errors.New("message body too short")

// Event is one decoded request. Readers consume arguments in order.
type Event struct {
	ProxyID uint32
	Opcode  uint16
	data    []byte
	offset  int
	conn    *Conn
	err     error
}

// Err reports whether any read ran past the end of the body.
func (e *Event) Err() error {
	return e.err
}

// Uint32 reads a uint32 argument.
func (e *Event) Uint32() uint32 {
	if e.offset+4 > len(e.data) {
		e.err = ErrShortEvent
		return 0
	}
	val := binary.NativeEndian.Uint32(e.data[e.offset:])
	e.offset += 4
	return val
}

// Int32 reads an int32 argument.
func (e *Event) Int32() int32 {
	return int32(e.Uint32())
}

// String reads a string argument. Some clients send the padded length
// rather than the exact one, so the value ends at the first NUL.
func (e *Event) String() string {
	strlen := int(e.Uint32())
	if strlen == 0 {
		return ""
	}
	if e.offset+strlen > len(e.data) {
		e.err = ErrShortEvent
		return ""
	}
	raw := e.data[e.offset : e.offset+strlen]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	e.offset += strlen + padding(strlen)
	return string(raw)
}

// FD takes the next descriptor received on the connection.
func (e *Event) FD() (int, bool) {
	return e.conn.nextFD()
}
