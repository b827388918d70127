package protocol

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Engine-level frame markers. Every text frame starts with one of these.
const (
	EngineOpen    byte = '0'
	EngineClose   byte = '1'
	EnginePing    byte = '2'
	EnginePong    byte = '3'
	EngineMessage byte = '4'
)

// Socket-level markers inside an EngineMessage frame.
const (
	SocketEvent byte = '2'
	SocketAck   byte = '3'
)

var (
	ErrEmptyFrame  = errors.New("empty frame")
	ErrNotEvent    = errors.New("not an event packet")
	ErrNotAck      = errors.New("not an ack packet")
	ErrNotOpen     = errors.New("not an open packet")
	ErrMissingName = errors.New("missing event name")
)

// OpenInfo is the server's session parameters delivered in the open frame.
type OpenInfo struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int64  `json:"maxPayload"`
}

// ParseOpen decodes an engine open frame ("0{...}").
func ParseOpen(frame string) (OpenInfo, error) {
	if frame == "" {
		return OpenInfo{}, ErrEmptyFrame
	}
	if frame[0] != EngineOpen {
		return OpenInfo{}, ErrNotOpen
	}
	var info OpenInfo
	if err := json.Unmarshal([]byte(frame[1:]), &info); err != nil {
		return OpenInfo{}, err
	}
	return info, nil
}

// EventPacket is a socket event: an optional ack id, a name and JSON args.
type EventPacket struct {
	ID    *int
	Event string
	Args  []json.RawMessage
}

// Arg unmarshals the first argument into v.
func (p EventPacket) Arg(v any) error {
	if len(p.Args) == 0 {
		return errors.New("no arguments")
	}
	return json.Unmarshal(p.Args[0], v)
}

func parseIDPrefix(s string) (id *int, rest string) {
	i := 0
	for i < len(s) {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		i++
	}
	if i == 0 {
		return nil, s
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil {
		return nil, s
	}
	return &v, s[i:]
}

// ParseEvent decodes the socket payload of an event frame, i.e. the part
// after the EngineMessage marker: `2[<id>]["name",{...}]`.
func ParseEvent(payload string) (EventPacket, error) {
	if payload == "" {
		return EventPacket{}, ErrEmptyFrame
	}
	if payload[0] != SocketEvent {
		return EventPacket{}, ErrNotEvent
	}

	id, rest := parseIDPrefix(payload[1:])
	if !strings.HasPrefix(rest, "[") {
		return EventPacket{}, errors.New("invalid event payload")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return EventPacket{}, err
	}
	if len(arr) == 0 {
		return EventPacket{}, ErrMissingName
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return EventPacket{}, ErrMissingName
	}
	return EventPacket{ID: id, Event: name, Args: arr[1:]}, nil
}

// BuildEvent encodes a socket event payload. The result still needs the
// EngineMessage marker prepended before it goes on the wire.
func BuildEvent(id *int, event string, args ...any) (string, error) {
	arr := make([]any, 0, 1+len(args))
	arr = append(arr, event)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(SocketEvent)
	if id != nil {
		b.WriteString(strconv.Itoa(*id))
	}
	b.Write(data)
	return b.String(), nil
}

// AckPacket is a socket ack: the id of the event it answers plus JSON args.
type AckPacket struct {
	ID   int
	Args []json.RawMessage
}

// ParseAck decodes the socket payload of an ack frame: `3<id>[args]`.
func ParseAck(payload string) (AckPacket, error) {
	if payload == "" {
		return AckPacket{}, ErrEmptyFrame
	}
	if payload[0] != SocketAck {
		return AckPacket{}, ErrNotAck
	}

	id, rest := parseIDPrefix(payload[1:])
	if id == nil {
		return AckPacket{}, errors.New("missing ack id")
	}
	if !strings.HasPrefix(rest, "[") {
		return AckPacket{}, errors.New("invalid ack payload")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return AckPacket{}, err
	}
	return AckPacket{ID: *id, Args: arr}, nil
}

// BuildAck encodes a socket ack payload.
func BuildAck(id int, args ...any) (string, error) {
	if args == nil {
		args = make([]any, 0)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(SocketAck)
	b.WriteString(strconv.Itoa(id))
	b.Write(data)
	return b.String(), nil
}

type attachmentFlag struct {
	Binary bool `json:"binary"`
}

// HasAttachment reports whether an event announces a trailing binary frame.
func HasAttachment(args []json.RawMessage) bool {
	if len(args) == 0 {
		return false
	}
	var f attachmentFlag
	if err := json.Unmarshal(args[0], &f); err != nil {
		return false
	}
	return f.Binary
}
