package franklyboot

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// InterByteTimeout is the longest gap allowed inside one frame on a byte
// stream. A longer pause discards the partial frame, so host and device
// can never stay half-a-frame out of step after a glitch.
const InterByteTimeout = 500 * time.Microsecond

// ErrTimeout is returned when no complete frame arrived inside the
// receive window.
var ErrTimeout = errors.New("timeout waiting for frame")

var eBadFrameSize = errors.New("frame is not 8 bytes")

// FrameTransport moves whole 8-byte frames. Implementations exist for
// byte streams (UART, USB CDC, TCP) and for CAN.
type FrameTransport interface {
	SendFrame(frame []byte) error
	RecvFrame(timeout time.Duration) ([]byte, error)
	Close() error
}

// StreamConn is the byte stream a frame link runs over. Read returns
// (0, nil) when its own read timeout expires with nothing arrived, the
// way a serial port with a read timeout behaves. Read must not block
// forever.
type StreamConn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// FrameAssembler cuts a byte arrival sequence into 8-byte frames. It is
// a push parser: feed it whatever arrived, stamped with the arrival
// time, and it hands back every frame completed by that data. A partial
// frame older than the inter-byte gap is discarded before new bytes are
// taken.
type FrameAssembler struct {
	gap  time.Duration
	buf  [MsgSize]byte
	n    int
	last time.Time
}

func NewFrameAssembler(gap time.Duration) *FrameAssembler {
	return &FrameAssembler{gap: gap}
}

// Push feeds bytes that arrived at now. Push with no data just applies
// the gap check, which the receive loop does while idle.
func (a *FrameAssembler) Push(now time.Time, data []byte) [][]byte {
	if a.n > 0 && now.Sub(a.last) > a.gap {
		a.n = 0
	}
	var frames [][]byte
	for _, b := range data {
		a.buf[a.n] = b
		a.n++
		if a.n == MsgSize {
			f := make([]byte, MsgSize)
			copy(f, a.buf[:])
			frames = append(frames, f)
			a.n = 0
		}
	}
	if len(data) > 0 {
		a.last = now
	}
	return frames
}

// Pending reports how many bytes of an incomplete frame are buffered.
func (a *FrameAssembler) Pending() int {
	return a.n
}

// StreamTransport runs the frame protocol over a StreamConn through a
// FrameAssembler.
type StreamTransport struct {
	conn    StreamConn
	asm     *FrameAssembler
	pending [][]byte
	readBuf [4 * MsgSize]byte
}

// NewStreamTransport wraps conn with the given inter-byte gap. Hosts
// talking over buffered links (USB, TCP) pass a gap well above
// InterByteTimeout since those links batch bytes.
func NewStreamTransport(conn StreamConn, gap time.Duration) *StreamTransport {
	return &StreamTransport{conn: conn, asm: NewFrameAssembler(gap)}
}

func (t *StreamTransport) SendFrame(frame []byte) error {
	if len(frame) != MsgSize {
		return eBadFrameSize
	}
	n, err := t.conn.Write(frame)
	if err != nil {
		return err
	}
	if n != MsgSize {
		return fmt.Errorf("short write: %d of %d bytes", n, MsgSize)
	}
	return nil
}

func (t *StreamTransport) RecvFrame(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if len(t.pending) > 0 {
			f := t.pending[0]
			t.pending = t.pending[1:]
			return f, nil
		}
		n, err := t.conn.Read(t.readBuf[:])
		if err != nil {
			return nil, err
		}
		now := time.Now()
		if n > 0 {
			t.pending = append(t.pending, t.asm.Push(now, t.readBuf[:n])...)
			continue
		}
		t.asm.Push(now, nil)
		if now.After(deadline) {
			return nil, ErrTimeout
		}
	}
}

func (t *StreamTransport) Close() error {
	return t.conn.Close()
}

// NetStream adapts a net.Conn to StreamConn semantics by polling with a
// short read deadline. Useful for TCP-attached emulators and for
// net.Pipe in tests.
type NetStream struct {
	Conn net.Conn
	Poll time.Duration
}

func NewNetStream(conn net.Conn) *NetStream {
	return &NetStream{Conn: conn, Poll: 10 * time.Millisecond}
}

func (s *NetStream) Read(p []byte) (int, error) {
	if err := s.Conn.SetReadDeadline(time.Now().Add(s.Poll)); err != nil {
		return 0, err
	}
	n, err := s.Conn.Read(p)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func (s *NetStream) Write(p []byte) (int, error) {
	return s.Conn.Write(p)
}

func (s *NetStream) Close() error {
	return s.Conn.Close()
}
