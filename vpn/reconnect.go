package vpn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yllada/wg-manager/common"
)

// ReconnectConfig configures automatic reconnection.
type ReconnectConfig struct {
	// Delay is the wait before the first attempt. It doubles after every
	// failed attempt, up to common.MaxReconnectDelay.
	Delay time.Duration
	// MaxAttempts bounds the attempts per failure (0 = unlimited).
	MaxAttempts int
}

// DefaultReconnectConfig returns the default reconnect configuration.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Delay:       common.ReconnectDelay,
		MaxAttempts: common.MaxReconnectAttempts,
	}
}

// ConnectFunc connects the profile named (or identified by) ref.
type ConnectFunc func(ctx context.Context, ref string) error

// Reconnector reconnects a profile whose session failed its health checks.
// Handshake timeouts and user disconnects are never retried.
type Reconnector struct {
	connect ConnectFunc
	config  ReconnectConfig

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc

	onReconnecting    func(name string, attempt int)
	onReconnectFailed func(name string, err error)
}

// NewReconnector creates a Reconnector that reconnects through connect.
func NewReconnector(connect ConnectFunc, config ReconnectConfig) *Reconnector {
	if config.Delay <= 0 {
		config.Delay = common.ReconnectDelay
	}
	return &Reconnector{connect: connect, config: config}
}

// SetOnReconnecting sets the callback run before each attempt.
func (r *Reconnector) SetOnReconnecting(fn func(name string, attempt int)) {
	r.mu.Lock()
	r.onReconnecting = fn
	r.mu.Unlock()
}

// SetOnReconnectFailed sets the callback run when reconnection gives up.
func (r *Reconnector) SetOnReconnectFailed(fn func(name string, err error)) {
	r.mu.Lock()
	r.onReconnectFailed = fn
	r.mu.Unlock()
}

// Cancel abandons a pending or running reconnection.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
}

// Run consumes session events until events is closed or ctx is done.
// A session that failed with ErrHealthCheckTimeout is reconnected once its
// teardown has published EventDisconnected.
func (r *Reconnector) Run(ctx context.Context, events <-chan SessionEvent) {
	var (
		failedID string
		name     string
		gen      uint64
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch {
			case ev.Kind == EventFailed && errors.Is(ev.Reason, ErrHealthCheckTimeout):
				failedID, name = ev.SessionID, ev.Name
				r.mu.Lock()
				gen = r.gen
				r.mu.Unlock()
			case ev.Kind == EventDisconnected && failedID != "" && ev.SessionID == failedID:
				failedID = ""
				r.reconnect(ctx, name, gen)
			}
		}
	}
}

func (r *Reconnector) reconnect(parent context.Context, name string, gen uint64) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		common.LogInfo("Reconnect for %s cancelled by disconnect", name)
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	onReconnecting, onReconnectFailed := r.onReconnecting, r.onReconnectFailed
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.gen == gen {
			r.cancel = nil
		}
		r.mu.Unlock()
		cancel()
	}()

	var lastErr error
	delay := r.config.Delay
	for attempt := 1; r.config.MaxAttempts == 0 || attempt <= r.config.MaxAttempts; attempt++ {
		common.LogInfo("Attempting reconnect for %s (attempt %d) in %v", name, attempt, delay)
		if onReconnecting != nil {
			onReconnecting(name, attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			common.LogInfo("Reconnect for %s cancelled", name)
			return
		case <-timer.C:
		}

		err := r.connect(ctx, name)
		switch {
		case err == nil:
			common.LogInfo("Reconnected %s after %d attempt(s)", name, attempt)
			return
		case ctx.Err() != nil:
			common.LogInfo("Reconnect for %s cancelled", name)
			return
		case errors.Is(err, ErrAlreadyActive):
			common.LogInfo("Another session started, dropping reconnect for %s", name)
			return
		case errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrConfigInvalid):
			lastErr = err
			common.LogError("Cannot reconnect %s: %v", name, err)
			if onReconnectFailed != nil {
				onReconnectFailed(name, lastErr)
			}
			return
		}

		lastErr = err
		common.LogWarn("Reconnect attempt %d for %s failed: %v", attempt, name, err)
		delay = min(delay*2, common.MaxReconnectDelay)
	}

	common.LogError("Max reconnect attempts reached for %s", name)
	if onReconnectFailed != nil {
		onReconnectFailed(name, lastErr)
	}
}
