package protocol

import (
	"encoding/json"
	"testing"
)

func TestBuildAndParseEvent(t *testing.T) {
	payload, err := BuildEvent(nil, EventChatMessage, ChatMessage{ID: "m1", Text: "hi", Sender: "d1", Timestamp: 42})
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}

	pkt, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if pkt.Event != EventChatMessage {
		t.Fatalf("event = %q", pkt.Event)
	}
	if pkt.ID != nil {
		t.Fatalf("unexpected ack id %d", *pkt.ID)
	}

	var msg ChatMessage
	if err := pkt.Arg(&msg); err != nil {
		t.Fatalf("Arg: %v", err)
	}
	if msg.ID != "m1" || msg.Text != "hi" || msg.Timestamp != 42 {
		t.Fatalf("round trip mismatch: %+v", msg)
	}
}

func TestBuildEventWithAckID(t *testing.T) {
	id := 7
	payload, err := BuildEvent(&id, EventPing, map[string]any{"deviceId": "d1"})
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}
	pkt, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if pkt.ID == nil || *pkt.ID != 7 {
		t.Fatalf("ack id not preserved: %+v", pkt.ID)
	}
}

func TestParseEventMalformed(t *testing.T) {
	for _, payload := range []string{"", "3[]", "2", "2{", "2[]", "2[42]"} {
		if _, err := ParseEvent(payload); err == nil {
			t.Fatalf("ParseEvent(%q) accepted malformed input", payload)
		}
	}
}

func TestBuildAndParseAck(t *testing.T) {
	payload, err := BuildAck(12, map[string]bool{"ok": true})
	if err != nil {
		t.Fatalf("BuildAck: %v", err)
	}
	ack, err := ParseAck(payload)
	if err != nil {
		t.Fatalf("ParseAck: %v", err)
	}
	if ack.ID != 12 || len(ack.Args) != 1 {
		t.Fatalf("ack mismatch: %+v", ack)
	}
}

func TestParseAckRequiresID(t *testing.T) {
	if _, err := ParseAck("3[]"); err == nil {
		t.Fatal("ack without id accepted")
	}
}

func TestParseOpen(t *testing.T) {
	info, err := ParseOpen(`0{"sid":"abc","pingInterval":25000,"pingTimeout":20000}`)
	if err != nil {
		t.Fatalf("ParseOpen: %v", err)
	}
	if info.SID != "abc" || info.PingInterval != 25000 {
		t.Fatalf("open mismatch: %+v", info)
	}
	if _, err := ParseOpen(`4{"sid":"abc"}`); err == nil {
		t.Fatal("non-open frame accepted")
	}
}

func TestHasAttachment(t *testing.T) {
	hdr, _ := json.Marshal(AudioChunkHeader{DeviceID: "d1", Sequence: 3, Binary: true})
	if !HasAttachment([]json.RawMessage{hdr}) {
		t.Fatal("binary header not detected")
	}
	plain, _ := json.Marshal(ChatMessage{ID: "m1"})
	if HasAttachment([]json.RawMessage{plain}) {
		t.Fatal("false attachment detection")
	}
	if HasAttachment(nil) {
		t.Fatal("empty args detected as attachment")
	}
}

func TestRoleRegisterEvent(t *testing.T) {
	if RoleWatcher.RegisterEvent() != EventRegisterParent {
		t.Fatal("watcher must register as parent")
	}
	if RoleWatched.RegisterEvent() != EventRegisterChild {
		t.Fatal("watched must register as child")
	}
	if Role("other").Valid() {
		t.Fatal("invalid role accepted")
	}
}

func TestDeliveryStatusForwardOnly(t *testing.T) {
	if !StatusDelivered.Supersedes(StatusSent) || !StatusRead.Supersedes(StatusDelivered) {
		t.Fatal("forward transitions rejected")
	}
	if StatusSent.Supersedes(StatusDelivered) || StatusDelivered.Supersedes(StatusRead) {
		t.Fatal("backward transitions accepted")
	}
	if StatusRead.Supersedes(StatusRead) {
		t.Fatal("same status must not supersede itself")
	}
}
