package conn

import (
	"encoding/json"
	"testing"

	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

func commandEvent(t *testing.T, cmd protocol.CommandPayload) transport.Event {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return transport.Event{Name: protocol.EventCommand, Args: []json.RawMessage{data}}
}

func TestCommandRoutedByType(t *testing.T) {
	m := newTestManager(t, nil)

	var started, stopped int
	m.OnCommand(protocol.CommandStartCapture, func(cmd protocol.CommandPayload) { started++ })
	m.OnCommand(protocol.CommandStopCapture, func(cmd protocol.CommandPayload) { stopped++ })

	m.handleCommand(commandEvent(t, protocol.CommandPayload{Type: protocol.CommandStartCapture}))
	m.handleCommand(commandEvent(t, protocol.CommandPayload{Type: protocol.CommandStartCapture}))
	m.handleCommand(commandEvent(t, protocol.CommandPayload{Type: protocol.CommandStopCapture}))

	if started != 2 || stopped != 1 {
		t.Fatalf("dispatch = (start %d, stop %d)", started, stopped)
	}
}

func TestUnknownCommandTypeDropped(t *testing.T) {
	m := newTestManager(t, nil)

	var calls int
	m.OnCommand(protocol.CommandStartCapture, func(cmd protocol.CommandPayload) { calls++ })

	// Must not panic or reach unrelated handlers.
	m.handleCommand(commandEvent(t, protocol.CommandPayload{Type: "future_feature"}))
	if calls != 0 {
		t.Fatal("unknown type reached a handler")
	}
}

func TestCommandHandlerPanicIsolated(t *testing.T) {
	m := newTestManager(t, nil)

	var ok int
	m.OnCommand(protocol.CommandCriticalAlert, func(cmd protocol.CommandPayload) { panic("handler bug") })
	m.OnCommand(protocol.CommandCriticalAlert, func(cmd protocol.CommandPayload) { ok++ })

	m.handleCommand(commandEvent(t, protocol.CommandPayload{Type: protocol.CommandCriticalAlert}))
	if ok != 1 {
		t.Fatal("panicking handler blocked the other")
	}
}

func TestRemoveCommandHandler(t *testing.T) {
	m := newTestManager(t, nil)

	var calls int
	h := m.OnCommand(protocol.CommandStartCapture, func(cmd protocol.CommandPayload) { calls++ })
	m.RemoveCommand(protocol.CommandStartCapture, h)

	m.handleCommand(commandEvent(t, protocol.CommandPayload{Type: protocol.CommandStartCapture}))
	if calls != 0 {
		t.Fatal("removed handler still invoked")
	}
}

func TestDedicatedEventsFoldIntoCommandRegistry(t *testing.T) {
	m := newTestManager(t, nil)

	var alert protocol.CriticalAlert
	m.OnCommand(protocol.CommandCriticalAlert, func(cmd protocol.CommandPayload) {
		_ = json.Unmarshal(cmd.Data, &alert)
	})
	var loc protocol.ParentLocation
	m.OnCommand(protocol.CommandParentLocation, func(cmd protocol.CommandPayload) {
		_ = json.Unmarshal(cmd.Data, &loc)
	})

	alertData, _ := json.Marshal(protocol.CriticalAlert{ID: "a1", EventType: "sos", Severity: "high", Message: "help"})
	m.route(transport.Event{Name: protocol.EventCriticalAlert, Args: []json.RawMessage{alertData}})

	locData, _ := json.Marshal(protocol.ParentLocation{ParentID: "peer-1", Latitude: 1, Longitude: 2})
	m.route(transport.Event{Name: protocol.EventParentLocation, Args: []json.RawMessage{locData}})

	if alert.ID != "a1" || alert.Severity != "high" {
		t.Fatalf("alert = %+v", alert)
	}
	if loc.ParentID != "peer-1" || loc.Latitude != 1 {
		t.Fatalf("location = %+v", loc)
	}
}

func TestMalformedCommandDropped(t *testing.T) {
	m := newTestManager(t, nil)
	var calls int
	m.OnCommand(protocol.CommandStartCapture, func(cmd protocol.CommandPayload) { calls++ })

	m.handleCommand(transport.Event{
		Name: protocol.EventCommand,
		Args: []json.RawMessage{json.RawMessage(`42`)},
	})
	if calls != 0 {
		t.Fatal("malformed command dispatched")
	}
}

func TestUnknownEventDropped(t *testing.T) {
	m := newTestManager(t, nil)
	// Must not panic.
	m.route(transport.Event{Name: "mystery_event"})
}
