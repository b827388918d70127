package conn

import (
	"encoding/json"
	"testing"

	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

func newTestManager(t *testing.T, mutate func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		ServerURL: "http://example.invalid",
		DeviceID:  "dev-1",
		PeerID:    "peer-1",
		Role:      protocol.RoleWatcher,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func audioEvent(t *testing.T, deviceID string, seq int64) transport.Event {
	t.Helper()
	hdr, err := json.Marshal(protocol.AudioChunkHeader{
		DeviceID: deviceID, Sequence: seq, Timestamp: seq * 10, Binary: true,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return transport.Event{
		Name:   protocol.EventAudioChunk,
		Args:   []json.RawMessage{hdr},
		Binary: []byte{byte(seq)},
	}
}

func TestAudioSequencePolicy(t *testing.T) {
	m := newTestManager(t, nil)

	var delivered []int64
	m.AddAudioListener(func(payload []byte, seq, ts int64) {
		delivered = append(delivered, seq)
	})

	// Duplicate 1 is dropped; 3 after 5 is a new stream and accepted.
	for _, seq := range []int64{0, 1, 1, 2, 5, 3} {
		m.handleAudioChunk(audioEvent(t, "peer-1", seq))
	}

	want := []int64{0, 1, 2, 5, 3}
	if len(delivered) != len(want) {
		t.Fatalf("delivered %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered %v, want %v", delivered, want)
		}
	}
}

func TestAudioChunkFromUnexpectedDeviceDropped(t *testing.T) {
	m := newTestManager(t, nil)

	var count int
	m.AddAudioListener(func(payload []byte, seq, ts int64) { count++ })

	m.handleAudioChunk(audioEvent(t, "intruder", 0))
	if count != 0 {
		t.Fatal("chunk from unexpected device delivered")
	}
	m.handleAudioChunk(audioEvent(t, "peer-1", 0))
	if count != 1 {
		t.Fatal("chunk from expected peer not delivered")
	}
}

func TestAudioGateResetsOnDisconnect(t *testing.T) {
	m := newTestManager(t, nil)

	var delivered []int64
	m.AddAudioListener(func(payload []byte, seq, ts int64) {
		delivered = append(delivered, seq)
	})

	m.handleAudioChunk(audioEvent(t, "peer-1", 7))
	m.handleAudioChunk(audioEvent(t, "peer-1", 7)) // duplicate
	m.onReset()
	m.handleAudioChunk(audioEvent(t, "peer-1", 7)) // new connected period

	if len(delivered) != 2 {
		t.Fatalf("delivered %v, want sequence 7 twice across reset", delivered)
	}
}

func TestAudioListenerPanicIsolated(t *testing.T) {
	m := newTestManager(t, nil)

	var ok int
	m.AddAudioListener(func(payload []byte, seq, ts int64) { panic("boom") })
	m.AddAudioListener(func(payload []byte, seq, ts int64) { ok++ })

	m.handleAudioChunk(audioEvent(t, "peer-1", 0))
	if ok != 1 {
		t.Fatal("panicking listener blocked delivery to the other")
	}
}

func TestMalformedAudioHeaderDropped(t *testing.T) {
	m := newTestManager(t, nil)
	var count int
	m.AddAudioListener(func(payload []byte, seq, ts int64) { count++ })

	m.handleAudioChunk(transport.Event{
		Name: protocol.EventAudioChunk,
		Args: []json.RawMessage{json.RawMessage(`"not an object"`)},
	})
	if count != 0 {
		t.Fatal("malformed header delivered")
	}
}

func TestSendAudioChunkWhenDisconnected(t *testing.T) {
	m := newTestManager(t, nil)
	if err := m.SendAudioChunk([]byte{1, 2}, true); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestSequencerStartsAtZeroAndResets(t *testing.T) {
	var s sequencer
	if s.next() != 0 || s.next() != 1 || s.next() != 2 {
		t.Fatal("sequence not strictly increasing from 0")
	}
	s.reset()
	if s.next() != 0 {
		t.Fatal("sequence did not restart at 0 after reset")
	}
}
