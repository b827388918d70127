package conn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

func (m *Manager) registerPayload() protocol.RegisterPayload {
	p := protocol.RegisterPayload{DeviceID: m.opts.DeviceID, Role: m.opts.Role}
	if m.opts.Role == protocol.RoleWatcher {
		p.TargetDeviceID = m.opts.PeerID
	}
	return p
}

func (m *Manager) onTransportConnected() {
	m.notifyState(StateEvent{State: transport.StateConnected})
	go m.runHandshake()
}

// runHandshake sends the registration event and waits for the registered
// acknowledgment. One silent window earns exactly one re-send; a second
// miss is reported without forcing a disconnect — the transport's own
// reconnection policy governs the connection.
func (m *Manager) runHandshake() {
	sess := m.currentSession()
	if sess == nil {
		return
	}

	ch := make(chan protocol.RegisteredPayload, 1)
	m.hsMu.Lock()
	m.hsEpoch++
	epoch := m.hsEpoch
	m.regCh = ch
	m.hsMu.Unlock()

	payload := m.registerPayload()
	event := m.opts.Role.RegisterEvent()

	for attempt := 0; attempt < 2; attempt++ {
		if m.handshakeStale(epoch) {
			return
		}
		if err := sess.Send(event, payload); err != nil {
			m.log.Warn("registration send failed", zap.Error(err))
			return
		}
		if attempt > 0 {
			m.log.Info("registration re-sent", zap.String("event", event))
		}

		select {
		case reg := <-ch:
			if !reg.Success {
				m.log.Warn("registration refused", zap.String("deviceId", reg.DeviceID))
				m.notifyState(StateEvent{State: sess.State(), Err: ErrRegistrationRefused})
				return
			}
			m.activate(sess)
			return
		case <-time.After(m.opts.HandshakeWait):
		}
	}

	m.log.Warn("registration unacknowledged after retry")
	m.notifyState(StateEvent{State: sess.State(), Err: ErrHandshakeTimeout})
}

func (m *Manager) handshakeStale(epoch int) bool {
	m.hsMu.Lock()
	defer m.hsMu.Unlock()
	return epoch != m.hsEpoch
}

func (m *Manager) handleRegistered(ev transport.Event) {
	var reg protocol.RegisteredPayload
	if err := ev.Arg(&reg); err != nil {
		m.log.Warn("malformed registered event, dropped", zap.Error(err))
		return
	}

	m.hsMu.Lock()
	ch := m.regCh
	m.hsMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- reg:
	default:
		// Acks for periodic re-registration have no waiter.
	}
}

// activate marks the session Active and kicks off the per-activation work:
// heartbeat timers and exactly one missed-message reconciliation.
func (m *Manager) activate(sess *transport.Session) {
	sess.MarkActive()
	m.gate.reset()
	m.startHeartbeat(sess)
	m.notifyState(StateEvent{State: transport.StateActive})
	m.log.Info("session active", zap.String("role", string(m.opts.Role)))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		m.reconcile(ctx)
	}()
}
