package perilib

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/perilib/internal/constants"
	"github.com/ehrlich-b/perilib/internal/logging"
	"github.com/ehrlich-b/perilib/protocol"
)

// DeviceInfo describes one device discovered by a Manager's enumeration
// function. ID must be stable across successive enumerations of the same
// physical device. Description is optional descriptive metadata a
// particular discovery mechanism may be able to supply (e.g. USB
// vendor/product strings); devices/loopback has no enumerator, and
// devices/serial's Enumerate fills in only ID and leaves it empty.
type DeviceInfo struct {
	ID          string
	Description string
}

// EnumerateFunc lists the devices currently visible to a particular
// discovery mechanism. This is the one part of Manager that differs per
// transport (spec: "abstract; the only part that changes per transport").
type EnumerateFunc func() (map[string]DeviceInfo, error)

// OpenFunc opens a Stream for a newly discovered device, used only when
// AutoOpen is enabled.
type OpenFunc func(DeviceInfo) (Stream, error)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// CheckInterval is the minimum time between successive enumeration
	// passes; between intervals Poll skips enumeration (unless called with
	// force) but still drives Process on every attached StreamRunner.
	CheckInterval time.Duration

	// AutoOpen, when true, opens a Stream and attaches proto to every newly
	// discovered device automatically (mirrors UartManager's auto_open
	// flag).
	AutoOpen bool

	// Open builds a Stream for a device; required when AutoOpen is true.
	Open OpenFunc

	// Protocol is attached to every auto-opened stream.
	Protocol *Protocol

	Logger   *logging.Logger
	Observer Observer

	OnConnectDevice    func(DeviceInfo)
	OnDisconnectDevice func(DeviceInfo)
}

// Protocol is a re-export of protocol.Protocol for callers that only import
// the root package.
type Protocol = protocol.Protocol

// Manager coordinates device discovery: it polls an EnumerateFunc on an
// interval, diffs the result against the previously known device set, and
// fires connect/disconnect callbacks — optionally auto-opening a
// StreamRunner per newly discovered device.
type Manager struct {
	enumerate EnumerateFunc
	opts      ManagerOptions

	mu              sync.Mutex
	known           map[string]DeviceInfo
	runners         map[string]*StreamRunner
	lastCheck       time.Time
	lastCheckIsZero bool
}

// NewManager creates a Manager that discovers devices via enumerate.
func NewManager(enumerate EnumerateFunc, opts ManagerOptions) *Manager {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = constants.DefaultCheckInterval
	}
	if opts.Observer == nil {
		opts.Observer = NoOpObserver{}
	}
	return &Manager{
		enumerate:       enumerate,
		opts:            opts,
		known:           make(map[string]DeviceInfo),
		runners:         make(map[string]*StreamRunner),
		lastCheckIsZero: true,
	}
}

// Poll checks for new or removed devices if CheckInterval has elapsed since
// the last check (or unconditionally if force is true), then drives
// Process() on every known device's attached StreamRunner. The host
// application calls this from its own event loop.
func (m *Manager) Poll(force bool) error {
	now := time.Now()

	m.mu.Lock()
	due := force || m.lastCheckIsZero || now.Sub(m.lastCheck) >= m.opts.CheckInterval
	m.mu.Unlock()

	if due {
		if err := m.checkDevices(); err != nil {
			return err
		}
		m.mu.Lock()
		m.lastCheck = now
		m.lastCheckIsZero = false
		m.mu.Unlock()
	}

	m.mu.Lock()
	runners := make([]*StreamRunner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.Process()
	}
	return nil
}

func (m *Manager) checkDevices() error {
	current, err := m.enumerate()
	if err != nil {
		return WrapError("manager.enumerate", err)
	}

	m.mu.Lock()
	toDisconnect := make([]DeviceInfo, 0)
	for id, info := range m.known {
		if _, ok := current[id]; !ok {
			toDisconnect = append(toDisconnect, info)
		}
	}

	toConnect := make([]DeviceInfo, 0)
	for id, info := range current {
		if _, ok := m.known[id]; !ok {
			m.known[id] = info
			toConnect = append(toConnect, info)
		}
	}
	m.mu.Unlock()

	for _, info := range toConnect {
		if m.opts.OnConnectDevice != nil {
			m.opts.OnConnectDevice(info)
		}
		if m.opts.AutoOpen {
			if err := m.autoOpen(info); err != nil && m.opts.Logger != nil {
				m.opts.Logger.Warnf("auto-open device %s: %v", info.ID, err)
			}
		}
	}

	for _, info := range toDisconnect {
		m.closeDevice(info.ID)
		if m.opts.OnDisconnectDevice != nil {
			m.opts.OnDisconnectDevice(info)
		}
		m.mu.Lock()
		delete(m.known, info.ID)
		m.mu.Unlock()
	}

	return nil
}

func (m *Manager) autoOpen(info DeviceInfo) error {
	stream, err := m.opts.Open(info)
	if err != nil {
		return err
	}

	runner := NewStreamRunner(stream, m.opts.Protocol, WithObserver(m.opts.Observer))
	if err := runner.Open(); err != nil {
		return err
	}

	m.mu.Lock()
	m.runners[info.ID] = runner
	m.mu.Unlock()
	return nil
}

func (m *Manager) closeDevice(id string) {
	m.mu.Lock()
	runner, ok := m.runners[id]
	if ok {
		delete(m.runners, id)
	}
	m.mu.Unlock()

	if ok {
		_ = runner.Close()
	}
}

// Stream returns the StreamRunner auto-opened for a known device, or nil if
// none is attached (AutoOpen disabled, or the device hasn't connected).
func (m *Manager) Stream(id string) *StreamRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runners[id]
}

// KnownDevices returns a snapshot of the currently known device set.
func (m *Manager) KnownDevices() map[string]DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]DeviceInfo, len(m.known))
	for k, v := range m.known {
		out[k] = v
	}
	return out
}

// Close closes every auto-opened stream and clears the known-device set.
func (m *Manager) Close() error {
	m.mu.Lock()
	runners := make([]*StreamRunner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.runners = make(map[string]*StreamRunner)
	m.known = make(map[string]DeviceInfo)
	m.mu.Unlock()

	var firstErr error
	for _, r := range runners {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewDeviceID generates a synthetic, stable-for-this-process device ID for
// transports (like a freshly dialed loopback pair) that have no natural
// stable identifier of their own.
func NewDeviceID() string {
	return uuid.NewString()
}
