// Package vpn provides tunnel session management.
// This file contains the health supervisor that polls the engine while a
// session is connected and fails the session when the peer stays
// unreachable.
package vpn

import (
	"context"
	"fmt"
	"time"

	"github.com/yllada/wg-manager/common"
)

// HealthState represents the current health state of a connection.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthReport tracks the health of the connected session.
type HealthReport struct {
	State            HealthState
	LastCheck        time.Time
	LastSuccess      time.Time
	ConsecutiveFails int
	LastStatus       EngineStatus
}

// startSupervisor launches the health loop for s.
// Must be called with m.mu held.
func (m *Manager) startSupervisor(s *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopSupervisor = cancel
	s.supervisorDone = make(chan struct{})
	m.health = HealthReport{State: HealthUnknown}

	go m.supervise(ctx, s, s.handle, s.supervisorDone)
}

// stopSupervisorLocked cancels the health loop of s and returns a channel
// closed once the loop has exited, or nil if none was running.
// Must be called with m.mu held.
func (m *Manager) stopSupervisorLocked(s *Session) <-chan struct{} {
	if s.stopSupervisor == nil {
		return nil
	}
	s.stopSupervisor()
	return s.supervisorDone
}

// supervise polls the engine every HealthInterval. FailureThreshold
// consecutive Down (or erroring) polls fail the session.
func (m *Manager) supervise(ctx context.Context, s *Session, handle Handle, done chan struct{}) {
	defer close(done)

	common.LogInfo("Health supervisor started (interval: %v, threshold: %d)",
		m.config.HealthInterval, m.config.FailureThreshold)

	ticker := time.NewTicker(m.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			common.LogDebug("Health supervisor stopped")
			return
		case <-ticker.C:
		}

		status, err := m.pollStatus(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		if m.recordPoll(s, status, err) {
			m.fail(s, fmt.Errorf("%w: peer unreachable for %d consecutive checks",
				ErrHealthCheckTimeout, m.config.FailureThreshold))
			return
		}
	}
}

// pollStatus asks the engine for the tunnel status. A call that does not
// return within one interval counts as a failed poll.
func (m *Manager) pollStatus(ctx context.Context, handle Handle) (EngineStatus, error) {
	type result struct {
		status EngineStatus
		err    error
	}
	results := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- result{err: fmt.Errorf("status panicked: %v", r)}
			}
		}()
		st, err := m.engine.Status(handle)
		results <- result{status: st, err: err}
	}()

	timer := time.NewTimer(m.config.HealthInterval)
	defer timer.Stop()
	select {
	case r := <-results:
		return r.status, r.err
	case <-timer.C:
		return EngineDown, fmt.Errorf("status did not return within %v", m.config.HealthInterval)
	case <-ctx.Done():
		// Teardown must not overlap a running Status call.
		select {
		case <-results:
		case <-timer.C:
			common.LogWarn("Status call still running after %v; tearing down anyway", m.config.HealthInterval)
		}
		return EngineDown, ctx.Err()
	}
}

// recordPoll updates the health report and reports whether the failure
// threshold has been reached.
func (m *Manager) recordPoll(s *Session, status EngineStatus, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != s || s.State != StateConnected {
		return false
	}

	h := &m.health
	old := h.State
	h.LastCheck = time.Now()
	h.LastStatus = status

	if err != nil || status == EngineDown {
		h.ConsecutiveFails++
		if err != nil {
			common.LogWarn("Health check failed for %s (attempt %d/%d): %v",
				s.Config.Name, h.ConsecutiveFails, m.config.FailureThreshold, err)
		} else {
			common.LogWarn("Health check failed for %s (attempt %d/%d): peer down",
				s.Config.Name, h.ConsecutiveFails, m.config.FailureThreshold)
		}
		if h.ConsecutiveFails >= m.config.FailureThreshold {
			h.State = HealthUnhealthy
		} else {
			h.State = HealthDegraded
		}
	} else {
		h.ConsecutiveFails = 0
		h.LastSuccess = h.LastCheck
		if status == EngineDegraded {
			h.State = HealthDegraded
		} else {
			h.State = HealthHealthy
		}
	}

	if old != h.State {
		common.LogInfo("Health state changed for %s: %s -> %s", s.Config.Name, old, h.State)
	}
	return h.State == HealthUnhealthy
}
