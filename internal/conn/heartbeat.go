package conn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

type pingPayload struct {
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp"`
}

// startHeartbeat runs the liveness ping and the periodic re-registration
// on independent timers while the session is Active.
func (m *Manager) startHeartbeat(sess *transport.Session) {
	m.hbMu.Lock()
	if m.hbCancel != nil {
		m.hbCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.hbCancel = cancel
	m.hbMu.Unlock()

	go m.pingLoop(ctx, sess)
	go m.reregisterLoop(ctx, sess)
}

// stopHeartbeat cancels both timers. Safe to call when already stopped.
func (m *Manager) stopHeartbeat() {
	m.hbMu.Lock()
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	m.hbMu.Unlock()
}

func (m *Manager) pingLoop(ctx context.Context, sess *transport.Session) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ackCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := sess.Emit(ackCtx, protocol.EventPing, pingPayload{
			DeviceID:  m.opts.DeviceID,
			Timestamp: time.Now().UnixMilli(),
		})
		cancel()
		if err != nil {
			m.log.Debug("heartbeat ping failed", zap.Error(err))
		}
	}
}

// reregisterLoop re-sends the registration on a longer interval to cover
// server-side session loss the client cannot otherwise detect.
func (m *Manager) reregisterLoop(ctx context.Context, sess *transport.Session) {
	ticker := time.NewTicker(m.opts.ReregisterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := sess.Send(m.opts.Role.RegisterEvent(), m.registerPayload()); err != nil {
			m.log.Debug("periodic re-registration failed", zap.Error(err))
		}
	}
}
