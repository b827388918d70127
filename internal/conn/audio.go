package conn

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

// noStream is the receive-side sentinel: no chunk processed yet in this
// connected period.
const noStream int64 = -1

// sequencer hands out the send-side chunk sequence, strictly increasing
// from 0 per capture session.
type sequencer struct {
	n atomic.Int64
}

func (s *sequencer) next() int64 { return s.n.Add(1) - 1 }
func (s *sequencer) reset()      { s.n.Store(0) }

// audioGate applies the receive-side sequence policy: equal sequences are
// transport re-deliveries and are dropped; a lower sequence marks the start
// of a new logical stream (sender restarted capture) and is accepted.
type audioGate struct {
	mu   sync.Mutex
	last int64
}

func (g *audioGate) reset() {
	g.mu.Lock()
	g.last = noStream
	g.mu.Unlock()
}

func (g *audioGate) admit(seq int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last != noStream && seq == g.last {
		return false
	}
	g.last = seq
	return true
}

// SendAudioChunk emits one captured chunk with the next sequence number.
func (m *Manager) SendAudioChunk(samples []byte, recording bool) error {
	sess := m.currentSession()
	if sess == nil || !sess.IsConnected() {
		return ErrNotConnected
	}
	hdr := protocol.AudioChunkHeader{
		DeviceID:  m.opts.DeviceID,
		Sequence:  m.sendSeq.next(),
		Timestamp: time.Now().UnixMilli(),
		Recording: recording,
		Binary:    true,
	}
	return sess.SendBinary(protocol.EventAudioChunk, hdr, samples)
}

// ResetCapture rewinds the send sequence; the next chunk starts a new
// logical stream at 0.
func (m *Manager) ResetCapture() { m.sendSeq.reset() }

func (m *Manager) handleAudioChunk(ev transport.Event) {
	var hdr protocol.AudioChunkHeader
	if err := ev.Arg(&hdr); err != nil {
		m.log.Warn("malformed audio header, dropped", zap.Error(err))
		return
	}
	if m.opts.PeerID != "" && hdr.DeviceID != m.opts.PeerID {
		m.log.Debug("audio chunk from unexpected device, dropped",
			zap.String("deviceId", hdr.DeviceID))
		return
	}
	if !m.gate.admit(hdr.Sequence) {
		m.log.Debug("duplicate audio chunk, dropped", zap.Int64("sequence", hdr.Sequence))
		return
	}

	for _, l := range m.audioLis.snapshot() {
		l := l
		m.safeCall("audio listener", func() { l(ev.Binary, hdr.Sequence, hdr.Timestamp) })
	}
}
