// Package vpn provides tunnel session management.
// This file contains the Manager type which owns the single tunnel session
// slot and drives the interface driver and the WireGuard engine through the
// session state machine.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/wg-manager/common"
)

// Session errors - re-exported from common package for convenience.
var (
	ErrAlreadyActive      = common.ErrAlreadyActive
	ErrConfigInvalid      = common.ErrConfigInvalid
	ErrInterface          = common.ErrInterface
	ErrHandshakeTimeout   = common.ErrHandshakeTimeout
	ErrEngine             = common.ErrEngine
	ErrHealthCheckTimeout = common.ErrHealthCheckTimeout
	ErrCancelled          = common.ErrCancelled
)

// ManagerConfig holds the timing settings of a Manager.
type ManagerConfig struct {
	// HandshakeTimeout bounds TunnelEngine.Start.
	HandshakeTimeout time.Duration
	// HealthInterval is the supervisor polling interval.
	HealthInterval time.Duration
	// FailureThreshold is the number of consecutive failed polls after
	// which the session fails with ErrHealthCheckTimeout.
	FailureThreshold int
	// TeardownTimeout bounds each engine stop and interface destroy call.
	TeardownTimeout time.Duration
}

// DefaultManagerConfig returns the default session timings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout: common.HandshakeTimeout,
		HealthInterval:   common.HealthInterval,
		FailureThreshold: common.HealthFailureThreshold,
		TeardownTimeout:  common.TeardownTimeout,
	}
}

func (c *ManagerConfig) applyDefaults() {
	def := DefaultManagerConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = def.HealthInterval
	}
	if c.FailureThreshold < 1 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = def.TeardownTimeout
	}
}

// Session is one connect-to-disconnect lifetime of the tunnel. Sessions are
// only ever touched by the Manager under its lock.
type Session struct {
	ID          string
	State       SessionState
	Config      *TunnelConfig
	StartedAt   time.Time
	ConnectedAt time.Time
	LastError   error

	iface  *ownedInterface
	handle Handle

	// cancelRequested is set by a Disconnect that arrives while connecting.
	cancelRequested bool
	stopSupervisor  context.CancelFunc
	supervisorDone  chan struct{}
	// done is closed once the slot returns to Idle.
	done chan struct{}
}

// Manager owns the tunnel session slot. At most one session is live at a
// time. Connect and Disconnect may be called concurrently from any
// goroutine; Status never blocks on tunnel I/O.
type Manager struct {
	engine TunnelEngine
	driver InterfaceDriver
	events EventPublisher
	config ManagerConfig

	mu        sync.Mutex
	session   *Session
	lastError error
	health    HealthReport
}

// NewManager creates a session manager. events may be nil.
func NewManager(engine TunnelEngine, driver InterfaceDriver, events EventPublisher, config ManagerConfig) *Manager {
	config.applyDefaults()
	return &Manager{
		engine: engine,
		driver: driver,
		events: events,
		config: config,
	}
}

// Connect establishes a tunnel for cfg and blocks until it is connected or
// the attempt failed. The Manager works on a private copy of cfg.
func (m *Manager) Connect(ctx context.Context, cfg *TunnelConfig) error {
	m.mu.Lock()
	if m.session != nil {
		state := m.session.State
		m.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyActive, state)
	}
	if err := cfg.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}

	s := &Session{
		ID:        common.GenerateID(),
		State:     StateIdle,
		Config:    cfg.Clone(),
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.session = s
	m.lastError = nil
	m.health = HealthReport{}
	m.transition(s, StateConnecting, nil)
	m.mu.Unlock()

	common.LogInfo("Session %s: connecting %s", common.ShortID(s.ID), s.Config)

	iface, err := m.createInterface(ctx, s.Config)
	if err != nil {
		return m.failConnect(s, err)
	}

	m.mu.Lock()
	s.iface = &ownedInterface{iface: iface, driver: m.driver}
	m.mu.Unlock()
	common.LogInfo("Session %s: interface %s created", common.ShortID(s.ID), iface.Name())

	handle, err := m.startEngine(ctx, s.Config, iface)
	if err != nil {
		return m.failConnect(s, err)
	}

	m.mu.Lock()
	s.handle = handle
	if s.cancelRequested {
		m.transition(s, StateDisconnecting, nil)
		m.mu.Unlock()

		common.LogInfo("Session %s: disconnect requested while connecting", common.ShortID(s.ID))
		m.teardown(s)
		m.finish(s)
		return fmt.Errorf("%w: disconnect requested while connecting", ErrCancelled)
	}

	s.ConnectedAt = time.Now()
	m.transition(s, StateConnected, nil)
	m.startSupervisor(s)
	m.mu.Unlock()

	common.LogInfo("Session %s: connected via %s", common.ShortID(s.ID), iface.Name())
	return nil
}

// Disconnect tears the live session down. It returns nil when there is no
// session. A Disconnect issued while a Connect is in flight is queued and
// applied as soon as that Connect resolves; the call returns once the slot
// is Idle again or ctx is done.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return nil
	}

	switch s.State {
	case StateConnected:
		m.transition(s, StateDisconnecting, nil)
		stopped := m.stopSupervisorLocked(s)
		m.mu.Unlock()

		if stopped != nil {
			<-stopped
		}
		m.teardown(s)
		m.finish(s)
		common.LogInfo("Session %s: disconnected", common.ShortID(s.ID))
		return nil

	case StateConnecting:
		s.cancelRequested = true
		common.LogInfo("Session %s: disconnect queued until connect resolves", common.ShortID(s.ID))
	}

	done := s.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// Status returns a snapshot of the session slot.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if s == nil {
		return Snapshot{State: StateIdle, LastError: m.lastError}
	}
	snap := Snapshot{
		State:       s.State,
		SessionID:   s.ID,
		Name:        s.Config.Name,
		Endpoint:    s.Config.Endpoint,
		StartedAt:   s.StartedAt,
		ConnectedAt: s.ConnectedAt,
		LastError:   s.LastError,
	}
	if s.iface != nil {
		snap.Interface = s.iface.name()
	}
	return snap
}

// Stats returns the traffic counters of the connected session.
func (m *Manager) Stats() (TunnelStats, error) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.State != StateConnected {
		m.mu.Unlock()
		return TunnelStats{}, errors.New("no connected session")
	}
	handle := s.handle
	m.mu.Unlock()

	sp, ok := m.engine.(StatsProvider)
	if !ok {
		return TunnelStats{}, errors.New("engine does not report statistics")
	}
	return sp.Stats(handle)
}

// Health returns the supervisor's view of the current session.
func (m *Manager) Health() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Close disconnects any live session. It is meant for process shutdown.
func (m *Manager) Close(ctx context.Context) error {
	return m.Disconnect(ctx)
}

// transition moves s to state to and emits the matching event.
// Must be called with m.mu held.
func (m *Manager) transition(s *Session, to SessionState, reason error) {
	from := s.State
	if !canTransition(from, to) {
		common.LogError("Session %s: unexpected transition %s -> %s", common.ShortID(s.ID), from, to)
	}
	s.State = to
	common.LogDebug("Session %s: %s -> %s", common.ShortID(s.ID), from, to)

	var kind EventKind
	switch to {
	case StateConnecting:
		kind = EventConnecting
	case StateConnected:
		kind = EventConnected
	case StateDisconnecting:
		kind = EventDisconnecting
	case StateFailed:
		kind = EventFailed
	case StateIdle:
		kind = EventDisconnected
	}

	if m.events == nil {
		return
	}
	ev := SessionEvent{
		Kind:      kind,
		SessionID: s.ID,
		Name:      s.Config.Name,
		Endpoint:  s.Config.Endpoint,
		Reason:    reason,
		Time:      time.Now(),
	}
	if s.iface != nil {
		ev.Interface = s.iface.name()
	}
	m.events.Publish(ev)
}

// failConnect handles a failed connect attempt: Connecting -> Failed -> Idle.
func (m *Manager) failConnect(s *Session, err error) error {
	m.mu.Lock()
	s.LastError = err
	m.transition(s, StateFailed, err)
	m.mu.Unlock()

	common.LogError("Session %s: connect failed: %v", common.ShortID(s.ID), err)
	m.teardown(s)
	m.finish(s)
	return err
}

// fail moves a connected session to Failed, releases its resources and
// returns the slot to Idle. It is a no-op if s is no longer connected.
func (m *Manager) fail(s *Session, reason error) {
	m.mu.Lock()
	if m.session != s || s.State != StateConnected {
		m.mu.Unlock()
		return
	}
	s.LastError = reason
	m.transition(s, StateFailed, reason)
	m.mu.Unlock()

	common.LogError("Session %s: failed: %v", common.ShortID(s.ID), reason)
	m.teardown(s)
	m.finish(s)
}

// finish returns the slot to Idle and wakes queued Disconnect calls.
func (m *Manager) finish(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transition(s, StateIdle, nil)
	m.lastError = s.LastError
	if m.session == s {
		m.session = nil
	}
	close(s.done)
}

// teardown stops the engine and destroys the interface. Errors are logged
// and never prevent the slot from returning to Idle.
func (m *Manager) teardown(s *Session) {
	m.mu.Lock()
	handle := s.handle
	s.handle = nil
	owned := s.iface
	m.mu.Unlock()

	if handle != nil {
		err := m.bounded("engine stop", func() error { return m.engine.Stop(handle) })
		if err != nil {
			common.LogWarn("Session %s: engine stop: %v", common.ShortID(s.ID), err)
		}
	}
	if owned != nil {
		err := m.bounded("interface destroy", owned.release)
		if err != nil {
			common.LogWarn("Session %s: interface destroy: %v", common.ShortID(s.ID), err)
		}
	}
	s.Config.Wipe()
}

func (m *Manager) createInterface(ctx context.Context, cfg *TunnelConfig) (iface Interface, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: driver panic: %v", ErrInterface, r)
		}
	}()

	iface, err = m.driver.Create(ctx, cfg)
	if err != nil {
		if common.Kind(err) == nil {
			err = fmt.Errorf("%w: %v", ErrInterface, err)
		}
		return nil, err
	}
	if iface == nil {
		return nil, fmt.Errorf("%w: driver returned no interface", ErrInterface)
	}
	return iface, nil
}

type startResult struct {
	handle Handle
	err    error
}

// startEngine runs TunnelEngine.Start with a bounded wait. An engine that
// ignores its context still cannot hold the connect past HandshakeTimeout;
// a handle it returns late is stopped.
func (m *Manager) startEngine(ctx context.Context, cfg *TunnelConfig, iface Interface) (Handle, error) {
	startCtx, cancel := context.WithTimeout(ctx, m.config.HandshakeTimeout)
	defer cancel()

	results := make(chan startResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- startResult{err: fmt.Errorf("%w: engine panic: %v", ErrEngine, r)}
			}
		}()
		h, err := m.engine.Start(startCtx, cfg, iface)
		results <- startResult{handle: h, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, m.classifyStartError(ctx, startCtx, r.err)
		}
		return r.handle, nil
	case <-startCtx.Done():
		go m.reapLateStart(results)
		return nil, m.classifyStartError(ctx, startCtx, startCtx.Err())
	}
}

func (m *Manager) classifyStartError(ctx, startCtx context.Context, err error) error {
	switch {
	case common.Kind(err) != nil:
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case errors.Is(startCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %v", ErrHandshakeTimeout, m.config.HandshakeTimeout)
	default:
		return fmt.Errorf("%w: %v", ErrEngine, err)
	}
}

func (m *Manager) reapLateStart(results <-chan startResult) {
	r := <-results
	if r.err != nil || r.handle == nil {
		return
	}
	common.LogWarn("Engine returned a handle after the handshake timeout; stopping it")
	if err := m.bounded("late engine stop", func() error { return m.engine.Stop(r.handle) }); err != nil {
		common.LogWarn("Late engine stop: %v", err)
	}
}

// bounded runs fn with TeardownTimeout, converting panics into errors.
func (m *Manager) bounded(what string, fn func() error) error {
	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("%s panicked: %v", what, r)
			}
		}()
		errc <- fn()
	}()

	timer := time.NewTimer(m.config.TeardownTimeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return fmt.Errorf("%s did not return within %v", what, m.config.TeardownTimeout)
	}
}

// ownedInterface releases its interface at most once.
type ownedInterface struct {
	iface  Interface
	driver InterfaceDriver
	once   sync.Once
	err    error
}

func (o *ownedInterface) name() string {
	return o.iface.Name()
}

func (o *ownedInterface) release() error {
	o.once.Do(func() {
		o.err = o.driver.Destroy(o.iface)
	})
	return o.err
}
