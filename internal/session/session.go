package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/webadb/droidgate/internal/transport"
)

// State is one step of the device-attach lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateAuthorizing  State = "authorizing"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateDemo         State = "demo"
)

// Session is a read-only snapshot of one device attachment. DeviceInfo is
// present iff the state is connected or demo.
type Session struct {
	State       State                 `json:"state"`
	Device      *transport.DeviceInfo `json:"device,omitempty"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	LastError   string                `json:"last_error,omitempty"`
}

const defaultAuthorizingTimeout = 30 * time.Second

const authorizingPollInterval = 2 * time.Second

// Manager owns the one active transport handle and the attach lifecycle
// around it.
type Manager struct {
	mu        sync.Mutex
	session   Session
	transport transport.Transport

	authorizingTimeout time.Duration
	pollInterval       time.Duration

	// recoverFunc performs the hard recovery for a stuck authorization
	// handshake; an internal retry is not reliable there.
	recoverFunc func()

	reconnectMu   sync.Mutex
	reconnectUsed bool
}

type Option func(*Manager)

// WithAuthorizingTimeout overrides the 30 second authorizing deadline.
func WithAuthorizingTimeout(timeout time.Duration, pollInterval time.Duration) Option {
	return func(manager *Manager) {
		manager.authorizingTimeout = timeout
		manager.pollInterval = pollInterval
	}
}

// WithRecoverFunc installs the hard-recovery action run when the
// authorizing deadline expires.
func WithRecoverFunc(recover func()) Option {
	return func(manager *Manager) {
		manager.recoverFunc = recover
	}
}

func NewManager(deviceTransport transport.Transport, options ...Option) *Manager {
	manager := &Manager{
		transport:          deviceTransport,
		session:            Session{State: StateDisconnected},
		authorizingTimeout: defaultAuthorizingTimeout,
		pollInterval:       authorizingPollInterval,
	}
	for _, option := range options {
		option(manager)
	}
	return manager
}

// Snapshot returns a copy of the current session.
func (manager *Manager) Snapshot() Session {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	snapshot := manager.session
	if manager.session.Device != nil {
		deviceCopy := *manager.session.Device
		snapshot.Device = &deviceCopy
	}
	return snapshot
}

// Transport returns the owned channel handle.
func (manager *Manager) Transport() transport.Transport {
	return manager.transport
}

// Connect walks the attach lifecycle: connecting, optionally authorizing
// while the device waits for on-device confirmation, then connected. A
// stuck authorization triggers the recovery action instead of an internal
// retry.
func (manager *Manager) Connect(ctx context.Context) error {
	manager.setState(StateConnecting, nil, "")

	info, connectError := manager.transport.Connect(ctx)
	if errors.Is(connectError, transport.ErrUnauthorized) {
		info, connectError = manager.awaitAuthorization(ctx)
	}
	if connectError != nil {
		message := ClassifyConnectError(connectError)
		manager.setState(StateError, nil, message)
		return fmt.Errorf("%s", message)
	}

	manager.mu.Lock()
	manager.session = Session{
		State:       StateConnected,
		Device:      &info,
		Fingerprint: Fingerprint(info),
	}
	manager.mu.Unlock()
	return nil
}

func (manager *Manager) awaitAuthorization(ctx context.Context) (transport.DeviceInfo, error) {
	manager.setState(StateAuthorizing, nil, "")
	deadline := time.Now().Add(manager.authorizingTimeout)

	for {
		select {
		case <-ctx.Done():
			return transport.DeviceInfo{}, ctx.Err()
		case <-time.After(manager.pollInterval):
		}

		info, connectError := manager.transport.Connect(ctx)
		if connectError == nil {
			return info, nil
		}
		if !errors.Is(connectError, transport.ErrUnauthorized) {
			return transport.DeviceInfo{}, connectError
		}
		if time.Now().After(deadline) {
			if manager.recoverFunc != nil {
				manager.recoverFunc()
			}
			return transport.DeviceInfo{}, errors.New("authorization timed out; the console was reset")
		}
	}
}

// Disconnect resets the session to disconnected regardless of prior state.
func (manager *Manager) Disconnect() {
	_ = manager.transport.Disconnect()
	manager.setState(StateDisconnected, nil, "")
}

// EnterDemo attaches the canned demo identity without contacting any
// transport. Legal only from disconnected.
func (manager *Manager) EnterDemo() error {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if manager.session.State != StateDisconnected {
		return fmt.Errorf("demo mode is only reachable from disconnected, not %s", manager.session.State)
	}
	info := transport.DemoDeviceInfo()
	manager.session = Session{
		State:       StateDemo,
		Device:      &info,
		Fingerprint: Fingerprint(info),
	}
	return nil
}

// TryAutoReconnect returns true at most once per process, so a re-render
// of the owning UI cannot race two auto-reconnect attempts.
func (manager *Manager) TryAutoReconnect() bool {
	manager.reconnectMu.Lock()
	defer manager.reconnectMu.Unlock()
	if manager.reconnectUsed {
		return false
	}
	manager.reconnectUsed = true
	return true
}

func (manager *Manager) setState(state State, device *transport.DeviceInfo, lastError string) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.session = Session{State: state, Device: device, LastError: lastError}
	if device != nil {
		manager.session.Fingerprint = Fingerprint(*device)
	}
}

// Fingerprint derives the stable device identity used for returning-user
// detection. Deterministic and side-effect free.
func Fingerprint(info transport.DeviceInfo) string {
	sum := sha256.Sum256([]byte(info.Manufacturer + "|" + info.Model + "|" + info.Serial))
	return hex.EncodeToString(sum[:16])
}
