package conn

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

// SendChat emits a chat message. A synchronous failure (not connected) is
// reported immediately; nothing is queued.
func (m *Manager) SendChat(text string) (string, error) {
	sess := m.currentSession()
	if sess == nil || !sess.IsConnected() {
		return "", ErrNotConnected
	}

	msg := protocol.ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    m.opts.DeviceID,
		DeviceID:  m.opts.DeviceID,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := sess.Send(protocol.EventChatMessage, msg); err != nil {
		return "", err
	}

	m.store.Put(StoredMessage{
		ID:        msg.ID,
		Text:      msg.Text,
		Sender:    msg.Sender,
		Timestamp: msg.Timestamp,
		Status:    protocol.StatusSent,
	})
	return msg.ID, nil
}

// MarkRead reports a read receipt for a received message.
func (m *Manager) MarkRead(id string) error {
	sess := m.currentSession()
	if sess == nil || !sess.IsConnected() {
		return ErrNotConnected
	}
	m.store.UpdateStatus(id, protocol.StatusRead)
	return sess.Send(protocol.EventChatStatus, protocol.ChatStatus{
		ID:        id,
		Status:    protocol.StatusRead,
		Actor:     m.opts.DeviceID,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (m *Manager) handleChatMessage(ev transport.Event) {
	var msg protocol.ChatMessage
	if err := ev.Arg(&msg); err != nil {
		m.log.Warn("malformed chat message, dropped", zap.Error(err))
		return
	}
	if msg.ID == "" {
		m.log.Warn("chat message without id, dropped")
		return
	}

	// The id is the idempotency key: a re-delivered frame must not
	// duplicate in the store or reach listeners twice.
	if !m.store.Put(StoredMessage{
		ID:        msg.ID,
		Text:      msg.Text,
		Sender:    msg.Sender,
		Timestamp: msg.Timestamp,
		Status:    protocol.StatusDelivered,
	}) {
		m.log.Debug("duplicate chat message, dropped", zap.String("id", msg.ID))
		return
	}

	m.fanOutChat(msg)
}

func (m *Manager) fanOutChat(msg protocol.ChatMessage) {
	for _, l := range m.chat.snapshot() {
		l := l
		m.safeCall("chat listener", func() { l(msg) })
	}
}

func (m *Manager) handleChatSent(ev transport.Event) {
	var sent protocol.ChatSent
	if err := ev.Arg(&sent); err != nil {
		m.log.Warn("malformed chat_message_sent, dropped", zap.Error(err))
		return
	}
	if !sent.Delivered {
		return
	}
	m.store.UpdateStatus(sent.ID, protocol.StatusDelivered)
	m.fanOutStatus(protocol.ChatStatus{
		ID:        sent.ID,
		Status:    protocol.StatusDelivered,
		Timestamp: sent.Timestamp,
	})
}

func (m *Manager) handleChatStatus(ev transport.Event) {
	var st protocol.ChatStatus
	if err := ev.Arg(&st); err != nil {
		m.log.Warn("malformed chat status, dropped", zap.Error(err))
		return
	}
	// Advisory metadata, forward-only; regressions are ignored.
	m.store.UpdateStatus(st.ID, st.Status)
	m.fanOutStatus(st)
}

func (m *Manager) fanOutStatus(st protocol.ChatStatus) {
	for _, l := range m.status.snapshot() {
		l := l
		m.safeCall("status listener", func() { l(st) })
	}
}

// reconcile fetches the recent messages for this pairing once per
// successful registration and merges the unread ones that are not already
// present locally. The socket guarantees delivery only while connected;
// this covers the gap between disconnect and reconnect.
func (m *Manager) reconcile(ctx context.Context) {
	if m.opts.API == nil {
		return
	}

	msgs, err := m.opts.API.Messages(ctx, m.opts.DeviceID, m.opts.ReconcileLimit)
	if err != nil {
		m.log.Warn("missed-message fetch failed", zap.Error(err))
		return
	}

	merged := 0
	for _, rec := range msgs {
		if rec.IsRead || rec.ID == "" || m.store.Has(rec.ID) {
			continue
		}
		if !m.store.Put(StoredMessage{
			ID:        rec.ID,
			Text:      rec.Message,
			Sender:    rec.Sender,
			Timestamp: rec.Timestamp,
			Status:    protocol.StatusDelivered,
		}) {
			continue
		}
		merged++
		m.fanOutChat(protocol.ChatMessage{
			ID:        rec.ID,
			Text:      rec.Message,
			Sender:    rec.Sender,
			Timestamp: rec.Timestamp,
		})
	}
	if merged > 0 {
		m.log.Info("missed messages merged", zap.Int("count", merged))
	}
}
