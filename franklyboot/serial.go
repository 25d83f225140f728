package franklyboot

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultBaudRate matches the device UART configuration.
const DefaultBaudRate = 115200

// OpenSerial opens a UART as a StreamConn, 8N1 at the given baud rate.
// The port read timeout makes Read return (0, nil) on silence, which is
// exactly the StreamConn contract.
func OpenSerial(portName string, baud int) (StreamConn, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(20 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	log.Debugf("opened %s at %d baud", portName, baud)
	return port, nil
}

// OpenSerialTransport is the usual entry point for the CLI: port name to
// ready-to-use FrameTransport. The host-side gap is relaxed to 2 ms
// because USB-serial bridges batch bytes in full-speed intervals.
func OpenSerialTransport(portName string, baud int) (FrameTransport, error) {
	conn, err := OpenSerial(portName, baud)
	if err != nil {
		return nil, err
	}
	return NewStreamTransport(conn, 2*time.Millisecond), nil
}

// ListSerialPorts names the serial ports present on the system.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
