package conn

import (
	"encoding/json"
	"testing"

	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

func chatEvent(t *testing.T, msg protocol.ChatMessage) transport.Event {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return transport.Event{Name: protocol.EventChatMessage, Args: []json.RawMessage{data}}
}

func TestChatRedeliveryDoesNotDuplicate(t *testing.T) {
	m := newTestManager(t, nil)

	var seen int
	m.AddChatListener(func(msg protocol.ChatMessage) { seen++ })

	ev := chatEvent(t, protocol.ChatMessage{ID: "m1", Text: "hi", Sender: "peer-1", Timestamp: 1})
	m.handleChatMessage(ev)
	m.handleChatMessage(ev)

	if seen != 1 {
		t.Fatalf("listener saw %d deliveries, want 1", seen)
	}
	if got := len(m.Store().Messages()); got != 1 {
		t.Fatalf("store holds %d records, want 1", got)
	}
}

func TestChatFanOutReachesAllListeners(t *testing.T) {
	m := newTestManager(t, nil)

	var a, b int
	m.AddChatListener(func(msg protocol.ChatMessage) { a++ })
	m.AddChatListener(func(msg protocol.ChatMessage) {
		b++
		panic("listener bug")
	})
	var c int
	m.AddChatListener(func(msg protocol.ChatMessage) { c++ })

	m.handleChatMessage(chatEvent(t, protocol.ChatMessage{ID: "m1", Text: "hi"}))

	if a != 1 || b != 1 || c != 1 {
		t.Fatalf("fan-out = (%d, %d, %d), want one call each", a, b, c)
	}
}

func TestRemovedListenerStopsReceiving(t *testing.T) {
	m := newTestManager(t, nil)

	var a, b int
	h := m.AddChatListener(func(msg protocol.ChatMessage) { a++ })
	m.AddChatListener(func(msg protocol.ChatMessage) { b++ })

	m.handleChatMessage(chatEvent(t, protocol.ChatMessage{ID: "m1"}))
	m.RemoveChatListener(h)
	m.handleChatMessage(chatEvent(t, protocol.ChatMessage{ID: "m2"}))

	if a != 1 || b != 2 {
		t.Fatalf("deliveries = (%d, %d), want (1, 2)", a, b)
	}
}

func TestStatusForwardOnly(t *testing.T) {
	m := newTestManager(t, nil)
	m.store.Put(StoredMessage{ID: "m1", Status: protocol.StatusSent})

	status := func(s protocol.DeliveryStatus) transport.Event {
		data, _ := json.Marshal(protocol.ChatStatus{ID: "m1", Status: s, Actor: "peer-1"})
		return transport.Event{Name: protocol.EventChatStatus, Args: []json.RawMessage{data}}
	}

	m.handleChatStatus(status(protocol.StatusRead))
	if got := m.Store().Messages()[0].Status; got != protocol.StatusRead {
		t.Fatalf("status = %q, want read", got)
	}

	// A late delivered update must not roll the status back.
	m.handleChatStatus(status(protocol.StatusDelivered))
	if got := m.Store().Messages()[0].Status; got != protocol.StatusRead {
		t.Fatalf("status regressed to %q", got)
	}
}

func TestChatSentMarksDelivered(t *testing.T) {
	m := newTestManager(t, nil)
	m.store.Put(StoredMessage{ID: "m1", Status: protocol.StatusSent})

	data, _ := json.Marshal(protocol.ChatSent{ID: "m1", Delivered: true, Timestamp: 5})
	var got protocol.ChatStatus
	m.AddStatusListener(func(st protocol.ChatStatus) { got = st })

	m.handleChatSent(transport.Event{Name: protocol.EventChatSent, Args: []json.RawMessage{data}})

	if m.Store().Messages()[0].Status != protocol.StatusDelivered {
		t.Fatal("store not marked delivered")
	}
	if got.ID != "m1" || got.Status != protocol.StatusDelivered {
		t.Fatalf("status listener got %+v", got)
	}
}

func TestSendChatWhenDisconnected(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.SendChat("hello"); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if got := len(m.Store().Messages()); got != 0 {
		t.Fatalf("failed send stored %d messages, want 0 (no queuing)", got)
	}
}

func TestMemoryStoreIdempotentPut(t *testing.T) {
	s := NewMemoryStore()
	if !s.Put(StoredMessage{ID: "m1", Text: "a"}) {
		t.Fatal("first put rejected")
	}
	if s.Put(StoredMessage{ID: "m1", Text: "b"}) {
		t.Fatal("second put accepted")
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Text != "a" {
		t.Fatalf("store = %+v", msgs)
	}
}
