package franklyboot

import (
	"fmt"
	"sync"
	"time"
)

// CAN ID scheme. Every frame is a classic data frame with DLC 8 carrying
// exactly one protocol frame.
//
//	0x780            broadcast, every node listens
//	0x781 + 2*node   node request ID (host -> device)
//	0x782 + 2*node   node response ID (device -> host)
//
// A device accepts its own request ID and the broadcast ID, nothing
// else; both acceptance filters are configured explicitly so an
// unfiltered controller behaves the same as a filtering one.
const (
	CANBroadcastID uint32 = 0x780
	CANMaxNodeID   uint8  = 63
)

func CANNodeRequestID(node uint8) uint32 {
	return CANBroadcastID + 1 + 2*uint32(node)
}

func CANNodeResponseID(node uint8) uint32 {
	return CANNodeRequestID(node) + 1
}

// CANFrame is one classic CAN data frame.
type CANFrame struct {
	ID   uint32
	DLC  byte
	Data [8]byte
}

// CANBus is the controller capability the transports need. Board glue or
// a socket driver implements it; MemCANBus is the in-process one.
// Receive returns ErrTimeout when nothing arrived in time.
type CANBus interface {
	Send(frame CANFrame) error
	Receive(timeout time.Duration) (CANFrame, error)
	Close() error
}

// CANDeviceTransport is the device end of a CAN link: it accepts the
// broadcast ID and its own request ID and answers on its response ID.
type CANDeviceTransport struct {
	bus  CANBus
	node uint8
}

func NewCANDeviceTransport(bus CANBus, node uint8) (*CANDeviceTransport, error) {
	if node > CANMaxNodeID {
		return nil, fmt.Errorf("node ID %d exceeds %d", node, CANMaxNodeID)
	}
	return &CANDeviceTransport{bus: bus, node: node}, nil
}

func (t *CANDeviceTransport) SendFrame(frame []byte) error {
	return sendCAN(t.bus, CANNodeResponseID(t.node), frame)
}

func (t *CANDeviceTransport) RecvFrame(timeout time.Duration) ([]byte, error) {
	return recvCAN(t.bus, timeout, CANBroadcastID, CANNodeRequestID(t.node))
}

func (t *CANDeviceTransport) Close() error {
	return t.bus.Close()
}

// CANHostTransport is the host end, bound to one node. Broadcast
// requests (addressed to every node at once) go out when broadcast is
// set; responses still come back on the node's own response ID.
type CANHostTransport struct {
	bus       CANBus
	node      uint8
	broadcast bool
}

func NewCANHostTransport(bus CANBus, node uint8, broadcast bool) (*CANHostTransport, error) {
	if node > CANMaxNodeID {
		return nil, fmt.Errorf("node ID %d exceeds %d", node, CANMaxNodeID)
	}
	return &CANHostTransport{bus: bus, node: node, broadcast: broadcast}, nil
}

func (t *CANHostTransport) SendFrame(frame []byte) error {
	id := CANNodeRequestID(t.node)
	if t.broadcast {
		id = CANBroadcastID
	}
	return sendCAN(t.bus, id, frame)
}

func (t *CANHostTransport) RecvFrame(timeout time.Duration) ([]byte, error) {
	return recvCAN(t.bus, timeout, CANNodeResponseID(t.node))
}

func (t *CANHostTransport) Close() error {
	return t.bus.Close()
}

func sendCAN(bus CANBus, id uint32, frame []byte) error {
	if len(frame) != MsgSize {
		return eBadFrameSize
	}
	f := CANFrame{ID: id, DLC: MsgSize}
	copy(f.Data[:], frame)
	return bus.Send(f)
}

// recvCAN waits for a frame on one of the accepted IDs, dropping
// everything else the way a hardware acceptance filter would.
func recvCAN(bus CANBus, timeout time.Duration, accept ...uint32) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, ErrTimeout
		}
		f, err := bus.Receive(remain)
		if err != nil {
			return nil, err
		}
		for _, id := range accept {
			if f.ID == id && f.DLC == MsgSize {
				frame := make([]byte, MsgSize)
				copy(frame, f.Data[:])
				return frame, nil
			}
		}
	}
}

// MemCANBus is an in-process bus. Every endpoint sees every frame sent
// by any other endpoint, like a real shared medium.
type MemCANBus struct {
	mu        sync.Mutex
	endpoints []*memCANEndpoint
	closed    bool
}

func NewMemCANBus() *MemCANBus {
	return &MemCANBus{}
}

// Endpoint attaches a new node to the bus.
func (b *MemCANBus) Endpoint() CANBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep := &memCANEndpoint{bus: b, rx: make(chan CANFrame, 64)}
	b.endpoints = append(b.endpoints, ep)
	return ep
}

func (b *MemCANBus) broadcast(from *memCANEndpoint, f CANFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}
	for _, ep := range b.endpoints {
		if ep == from || ep.closed {
			continue
		}
		select {
		case ep.rx <- f:
		default:
			// A full endpoint loses frames, as on a saturated bus.
		}
	}
	return nil
}

type memCANEndpoint struct {
	bus    *MemCANBus
	rx     chan CANFrame
	closed bool
}

func (e *memCANEndpoint) Send(f CANFrame) error {
	return e.bus.broadcast(e, f)
}

func (e *memCANEndpoint) Receive(timeout time.Duration) (CANFrame, error) {
	select {
	case f := <-e.rx:
		return f, nil
	case <-time.After(timeout):
		return CANFrame{}, ErrTimeout
	}
}

func (e *memCANEndpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	e.closed = true
	return nil
}
