package conn

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

// OnCommand registers a handler for one control command type. Multiple
// handlers per type may coexist.
func (m *Manager) OnCommand(cmdType string, h CommandHandler) Handle {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	m.cmdNext++
	handle := m.cmdNext
	set := m.commands[cmdType]
	if set == nil {
		set = make(map[Handle]CommandHandler)
		m.commands[cmdType] = set
	}
	set[handle] = h
	return handle
}

func (m *Manager) RemoveCommand(cmdType string, h Handle) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	set := m.commands[cmdType]
	if set == nil {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(m.commands, cmdType)
	}
}

func (m *Manager) handleCommand(ev transport.Event) {
	var cmd protocol.CommandPayload
	if err := ev.Arg(&cmd); err != nil {
		m.log.Warn("malformed command, dropped", zap.Error(err))
		return
	}
	m.routeCommand(cmd)
}

// routeWrapped folds a dedicated control event into the command registry
// so consumers subscribe one way regardless of which envelope the server
// used.
func (m *Manager) routeWrapped(cmdType string, ev transport.Event) {
	cmd := protocol.CommandPayload{Type: cmdType, Timestamp: time.Now().UnixMilli()}
	if len(ev.Args) > 0 {
		cmd.Data = ev.Args[0]
	}
	m.routeCommand(cmd)
}

func (m *Manager) routeCommand(cmd protocol.CommandPayload) {
	m.cmdMu.RLock()
	set := m.commands[cmd.Type]
	handlers := make([]CommandHandler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	m.cmdMu.RUnlock()

	if len(handlers) == 0 {
		m.log.Info("unhandled command type, dropped", zap.String("type", cmd.Type))
		return
	}
	for _, h := range handlers {
		h := h
		m.safeCall("command handler", func() { h(cmd) })
	}
}

// RequestPhoto asks the paired device for a photo and returns the request id.
func (m *Manager) RequestPhoto() (string, error) {
	sess := m.currentSession()
	if sess == nil || !sess.IsConnected() {
		return "", ErrNotConnected
	}
	reqID := uuid.NewString()
	err := sess.Send(protocol.EventRequestPhoto, protocol.PhotoRequest{
		TargetDevice: m.opts.PeerID,
		RequestID:    reqID,
	})
	if err != nil {
		return "", err
	}
	return reqID, nil
}

// SendPhoto answers a photo request with the captured image.
func (m *Manager) SendPhoto(requestID string, image []byte) error {
	sess := m.currentSession()
	if sess == nil || !sess.IsConnected() {
		return ErrNotConnected
	}
	return sess.Send(protocol.EventPhoto, protocol.Photo{
		RequestID: requestID,
		Image:     base64.StdEncoding.EncodeToString(image),
		Timestamp: time.Now().UnixMilli(),
	})
}

// SendPhotoError reports that a photo request could not be fulfilled.
func (m *Manager) SendPhotoError(requestID, reason string) error {
	sess := m.currentSession()
	if sess == nil || !sess.IsConnected() {
		return ErrNotConnected
	}
	return sess.Send(protocol.EventPhotoError, protocol.PhotoError{
		RequestID: requestID,
		Error:     reason,
	})
}

// SendLocationUpdate shares the watcher's position with the peer.
func (m *Manager) SendLocationUpdate(loc protocol.ParentLocation) error {
	sess := m.currentSession()
	if sess == nil || !sess.IsConnected() {
		return ErrNotConnected
	}
	if loc.ParentID == "" {
		loc.ParentID = m.opts.DeviceID
	}
	if loc.Timestamp == 0 {
		loc.Timestamp = time.Now().UnixMilli()
	}
	return sess.Send(protocol.EventParentLocation, loc)
}

// SendCriticalAlert raises an out-of-band alert toward the peer.
func (m *Manager) SendCriticalAlert(alert protocol.CriticalAlert) error {
	sess := m.currentSession()
	if sess == nil || !sess.IsConnected() {
		return ErrNotConnected
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt == 0 {
		alert.CreatedAt = time.Now().UnixMilli()
	}
	return sess.Send(protocol.EventCriticalAlert, alert)
}
