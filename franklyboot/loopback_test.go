package franklyboot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

func testProfile() *DeviceProfile {
	p := DefaultProfile()
	p.Flash.StartAddr = 0x08000000
	p.Flash.Size = 8 * 1024
	p.Flash.PageSize = 1024
	p.Flash.AppFirstPage = 2
	p.Autoboot.Enabled = false
	return p
}

type loopback struct {
	client *Client
	em     *Emulator
	done   chan error
}

// startLoopback wires a client to an emulator over an in-memory pipe and
// runs one device boot in the background.
func startLoopback(t *testing.T, profile *DeviceProfile) *loopback {
	t.Helper()
	hostConn, devConn := net.Pipe()
	host := NewStreamTransport(NewNetStream(hostConn), time.Second)
	dev := NewStreamTransport(NewNetStream(devConn), time.Second)

	em, err := NewEmulator(profile, dev)
	if err != nil {
		t.Fatalf("NewEmulator: %v", err)
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- em.Run(stop) }()

	client := NewClient(host)
	t.Cleanup(func() {
		close(stop)
		client.Close()
		dev.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})
	return &loopback{client: client, em: em, done: done}
}

// waitBoot blocks until the background Run returns, which happens on
// reset, launch or stop.
func (l *loopback) waitBoot(t *testing.T) {
	t.Helper()
	select {
	case err := <-l.done:
		if err != nil {
			t.Fatalf("device loop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("device loop never finished the boot")
	}
}

// bootableRaw builds an unpadded application binary whose stack pointer
// and reset vector satisfy the launch checks.
func bootableRaw(cfg Config, size int) []byte {
	raw := make([]byte, size)
	binary.LittleEndian.PutUint32(raw[0:], cfg.RAMStartAddr+0x2000)
	binary.LittleEndian.PutUint32(raw[4:], cfg.AppStartAddr()+0xC1)
	for i := 8; i < size; i++ {
		raw[i] = byte(i * 7)
	}
	return raw
}

func TestLoopbackFlashReadbackAndStart(t *testing.T) {
	profile := testProfile()
	lb := startLoopback(t, profile)
	cfg := profile.Config()

	// A payload of 1.5 pages leaves pages in the middle blank, so the
	// erase-only shortcut is on the path too.
	raw := bootableRaw(cfg, 1536)
	flasher := NewFlasher(lb.client)
	if err := flasher.Flash(raw, false); err != nil {
		t.Fatalf("flash: %v", err)
	}

	fw, err := NewFirmware(raw, cfg.AppNumBytes())
	if err != nil {
		t.Fatal(err)
	}
	appOff := cfg.AppStartAddr() - cfg.FlashStartAddr
	got := lb.em.Flash().Bytes()[appOff : appOff+cfg.AppNumBytes()]
	if !bytes.Equal(got, fw.Data) {
		t.Fatal("flash contents differ from the prepared image")
	}

	if err := flasher.Verify(raw); err != nil {
		t.Fatalf("verify: %v", err)
	}

	w, err := lb.client.FlashReadWord(cfg.AppStartAddr())
	if err != nil {
		t.Fatalf("read word: %v", err)
	}
	if want := binary.LittleEndian.Uint32(raw[0:4]); w != want {
		t.Fatalf("readback word %#08x, want %#08x", w, want)
	}

	if err := lb.client.StartApp(false); err != nil {
		t.Fatalf("start app: %v", err)
	}
	lb.waitBoot(t)
	if launches := lb.em.Flash().Launches(); len(launches) != 1 || launches[0] != cfg.AppStartAddr() {
		t.Fatalf("launches %#x, want one at %#08x", launches, cfg.AppStartAddr())
	}
}

func TestLoopbackStartAppRejectsBlankFlash(t *testing.T) {
	lb := startLoopback(t, testProfile())

	err := lb.client.StartApp(false)
	var re *ResultError
	if !errors.As(err, &re) || re.Result != RES_ERR_CRC {
		t.Fatalf("err %v, want ERR_CRC", err)
	}
	if len(lb.em.Flash().Launches()) != 0 {
		t.Fatal("an invalid app must not launch")
	}
	// The device stays up and keeps answering.
	if err := lb.client.Ping(); err != nil {
		t.Fatalf("ping after refused start: %v", err)
	}
}

func TestLoopbackDeviceInfo(t *testing.T) {
	profile := testProfile()
	lb := startLoopback(t, profile)

	info, err := lb.client.ReadDeviceInfo()
	if err != nil {
		t.Fatalf("read device info: %v", err)
	}
	if info.VendorID != profile.Identity.VendorID ||
		info.ProductID != profile.Identity.ProductID ||
		info.ProductionDate != profile.Identity.ProductionDate ||
		info.UniqueID != profile.Identity.UniqueID {
		t.Fatalf("identity %+v does not match the profile", info)
	}
	if info.FlashStartAddr != profile.Flash.StartAddr ||
		info.FlashPageSize != profile.Flash.PageSize ||
		info.FlashNumPages != profile.Flash.Size/profile.Flash.PageSize ||
		info.AppFirstPage != profile.Flash.AppFirstPage {
		t.Fatalf("geometry %+v does not match the profile", info)
	}
	if info.AppValid() {
		t.Fatal("blank flash must not report a valid app")
	}
}

func TestLoopbackResetDevice(t *testing.T) {
	lb := startLoopback(t, testProfile())

	if err := lb.client.ResetDevice(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	lb.waitBoot(t)
	if lb.em.Flash().ResetCount() != 1 {
		t.Fatalf("reset count %d, want 1", lb.em.Flash().ResetCount())
	}
}

func TestLoopbackAutobootCancelledByPing(t *testing.T) {
	profile := testProfile()
	profile.Autoboot.Enabled = true
	profile.Autoboot.DelayMS = 100

	hostConn, devConn := net.Pipe()
	host := NewStreamTransport(NewNetStream(hostConn), time.Second)
	dev := NewStreamTransport(NewNetStream(devConn), time.Second)
	defer host.Close()
	defer dev.Close()

	em, err := NewEmulator(profile, dev)
	if err != nil {
		t.Fatal(err)
	}
	cfg := profile.Config()
	em.Flash().LoadImage(cfg.AppStartAddr(), validAppImage(t, cfg).Data)

	stop := make(chan struct{})
	defer close(stop)
	done := make(chan error, 1)
	go func() { done <- em.Run(stop) }()
	client := NewClient(host)

	// The ping lands well inside the window and must close it for good.
	if err := client.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	if n := len(em.Flash().Launches()); n != 0 {
		t.Fatalf("%d launches after a cancelling ping, want 0", n)
	}

	// An explicit start still works after the window closed.
	if err := client.StartApp(false); err != nil {
		t.Fatalf("start app: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("device loop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("device loop never finished the boot")
	}
	if launches := em.Flash().Launches(); len(launches) != 1 {
		t.Fatalf("launches %#x, want exactly one", launches)
	}
}

func TestLoopbackAutobootFires(t *testing.T) {
	profile := testProfile()
	profile.Autoboot.Enabled = true
	profile.Autoboot.DelayMS = 50

	hostConn, devConn := net.Pipe()
	defer hostConn.Close()
	dev := NewStreamTransport(NewNetStream(devConn), time.Second)
	defer dev.Close()

	em, err := NewEmulator(profile, dev)
	if err != nil {
		t.Fatal(err)
	}
	cfg := profile.Config()
	em.Flash().LoadImage(cfg.AppStartAddr(), validAppImage(t, cfg).Data)

	stop := make(chan struct{})
	defer close(stop)
	done := make(chan error, 1)
	go func() { done <- em.Run(stop) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("device loop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("autoboot never launched the app")
	}
	if launches := em.Flash().Launches(); len(launches) != 1 || launches[0] != cfg.AppStartAddr() {
		t.Fatalf("launches %#x, want one at %#08x", launches, cfg.AppStartAddr())
	}
}
