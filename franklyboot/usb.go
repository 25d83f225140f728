package franklyboot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

var (
	eNoUSBDevice = errors.New("no matching USB device found")
	eNoBulkPair  = errors.New("no bulk endpoint pair on device")
)

// USBStream is a StreamConn over the bulk endpoint pair of a USB CDC
// function. The device enumerates as a CDC ACM serial port; talking to
// the bulk endpoints directly skips the OS tty layer and its line
// discipline.
type USBStream struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	readTimeout time.Duration
}

// OpenUSB claims the first device matching vid:pid and the first
// interface alternate that carries a bulk IN/OUT pair.
func OpenUSB(vid, pid uint16) (*USBStream, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open device %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, eNoUSBDevice
	}
	if err := dev.SetAutoDetach(true); err != nil {
		log.Warnf("auto-detach not available: %v", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim config 1: %w", err)
	}

	for _, ifDesc := range cfg.Desc.Interfaces {
		for _, alt := range ifDesc.AltSettings {
			inNum, outNum, ok := bulkPair(alt)
			if !ok {
				continue
			}
			intf, err := cfg.Interface(ifDesc.Number, alt.Alternate)
			if err != nil {
				continue
			}
			in, err := intf.InEndpoint(inNum)
			if err != nil {
				intf.Close()
				continue
			}
			out, err := intf.OutEndpoint(outNum)
			if err != nil {
				intf.Close()
				continue
			}
			log.Debugf("claimed %04x:%04x interface %d (bulk in %d, out %d)",
				vid, pid, ifDesc.Number, inNum, outNum)
			return &USBStream{
				ctx: ctx, dev: dev, cfg: cfg, intf: intf,
				in: in, out: out,
				readTimeout: 20 * time.Millisecond,
			}, nil
		}
	}

	cfg.Close()
	dev.Close()
	ctx.Close()
	return nil, eNoBulkPair
}

func bulkPair(alt gousb.InterfaceSetting) (in, out int, ok bool) {
	foundIn, foundOut := false, false
	for _, ep := range alt.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			in, foundIn = ep.Number, true
		} else {
			out, foundOut = ep.Number, true
		}
	}
	return in, out, foundIn && foundOut
}

// Read satisfies StreamConn: (0, nil) on silence.
func (s *USBStream) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.readTimeout)
	defer cancel()
	n, err := s.in.ReadContext(ctx, p)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || err == gousb.TransferCancelled) {
		return n, nil
	}
	return n, err
}

func (s *USBStream) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *USBStream) Close() error {
	s.intf.Close()
	s.cfg.Close()
	s.dev.Close()
	return s.ctx.Close()
}

// OpenUSBTransport is the CLI entry point: vid:pid to FrameTransport.
// USB delivers bytes in whole transfers, so the inter-byte gap is
// relaxed the same way as on the host serial path.
func OpenUSBTransport(vid, pid uint16) (FrameTransport, error) {
	s, err := OpenUSB(vid, pid)
	if err != nil {
		return nil, err
	}
	return NewStreamTransport(s, 2*time.Millisecond), nil
}
