// Package serial wraps github.com/daedaluz/goserial as a perilib.Stream: a
// concrete, real-hardware collaborator for the framing engine, using
// golang.org/x/sys/unix to put the file descriptor in non-blocking mode so
// PollRx can satisfy the "returns bytes currently available without
// blocking" contract without goserial's own ReadTimeout plumbing.
package serial

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	goserial "github.com/daedaluz/goserial"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/perilib"
	"github.com/ehrlich-b/perilib/internal/constants"
)

// portGlobs are the device-node patterns a USB-to-serial adapter, a
// USB-CDC-ACM device, or an on-board UART shows up as under /dev on Linux.
var portGlobs = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyS*",
}

// Device is a serial port opened at a fixed baud rate, framing-ready via the
// perilib.Stream contract.
type Device struct {
	path string
	baud goserial.CFlag

	mu   sync.Mutex
	port *goserial.Port
}

// New describes a serial device at path, to be opened at baud. baud is one
// of goserial's B* constants (e.g. goserial.B115200).
func New(path string, baud goserial.CFlag) *Device {
	return &Device{path: path, baud: baud}
}

// Open acquires the underlying file descriptor, puts the line into raw mode
// at the configured baud rate, and switches it to non-blocking I/O.
// Idempotent.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		return nil
	}

	port, err := goserial.Open(d.path, goserial.NewOptions().SetReadTimeout(0))
	if err != nil {
		return fmt.Errorf("open %s: %w", d.path, err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return fmt.Errorf("get termios for %s: %w", d.path, err)
	}
	attrs.MakeRaw()
	attrs.SetSpeed(d.baud)
	if err := port.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return fmt.Errorf("set termios for %s: %w", d.path, err)
	}

	if err := unix.SetNonblock(port.Fd(), true); err != nil {
		port.Close()
		return fmt.Errorf("set nonblocking for %s: %w", d.path, err)
	}

	d.port = port
	return nil
}

// Close releases the file descriptor. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// Write sends p synchronously.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return 0, perilib.ErrStreamClosed
	}
	return port.Write(p)
}

// PollRx reads whatever is currently in the kernel's input buffer without
// blocking; EAGAIN/EWOULDBLOCK from the non-blocking fd means "nothing
// available", not an error.
func (d *Device) PollRx() ([]byte, error) {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return nil, perilib.ErrStreamClosed
	}

	buf := make([]byte, constants.DefaultPollBufferSize)
	n, err := port.Read(buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}
	return buf[:n], nil
}

// List returns the serial device nodes currently present under /dev,
// matching the usual USB-to-serial (ttyUSB), USB-CDC-ACM (ttyACM), and
// on-board UART (ttyS) naming conventions. goserial itself has no port
// listing API, so this walks the device-node glob patterns directly; a
// port appearing here says nothing about whether it is already open or
// in use by another process.
func List() ([]string, error) {
	var paths []string
	for _, pattern := range portGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

// Enumerate adapts List to perilib's EnumerateFunc shape, so a Manager can
// drive device discovery directly against the host's serial ports. Each
// port's own device path is used as its DeviceInfo.ID, since a bare tty
// device node carries no other stable identifier.
func Enumerate() (map[string]perilib.DeviceInfo, error) {
	paths, err := List()
	if err != nil {
		return nil, err
	}

	devices := make(map[string]perilib.DeviceInfo, len(paths))
	for _, path := range paths {
		devices[path] = perilib.DeviceInfo{ID: path}
	}
	return devices, nil
}

var _ perilib.Stream = (*Device)(nil)
var _ perilib.EnumerateFunc = Enumerate
