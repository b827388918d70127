package protocol

import "encoding/json"

// Role selects which side of the pairing this client plays. The two roles
// share one protocol core; only the registration event differs.
type Role string

const (
	RoleWatcher Role = "watcher"
	RoleWatched Role = "watched"
)

func (r Role) Valid() bool {
	return r == RoleWatcher || r == RoleWatched
}

// RegisterEvent returns the registration event name for this role.
func (r Role) RegisterEvent() string {
	if r == RoleWatcher {
		return EventRegisterParent
	}
	return EventRegisterChild
}

// Event names on the realtime channel.
const (
	EventRegisterChild  = "register_child"
	EventRegisterParent = "register_parent"
	EventRegistered     = "registered"
	EventAudioChunk     = "audio_chunk"
	EventChatMessage    = "chat_message"
	EventChatSent       = "chat_message_sent"
	EventChatStatus     = "chat_message_status"
	EventCommand        = "command"
	EventCriticalAlert  = "critical_alert"
	EventParentLocation = "parent_location"
	EventRequestPhoto   = "request_photo"
	EventPhoto          = "photo"
	EventPhotoError     = "photo_error"
	EventPing           = "ping"
)

// Control command types carried inside a command envelope.
const (
	CommandStartCapture   = "start_capture"
	CommandStopCapture    = "stop_capture"
	CommandRequestPhoto   = "request_photo"
	CommandPhoto          = "photo"
	CommandPhotoError     = "photo_error"
	CommandParentLocation = "parent_location"
	CommandCriticalAlert  = "critical_alert"
)

type RegisterPayload struct {
	DeviceID       string `json:"deviceId"`
	Role           Role   `json:"role"`
	TargetDeviceID string `json:"targetDeviceId,omitempty"`
}

type RegisteredPayload struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId"`
}

// AudioChunkHeader describes one sequenced audio frame. The raw samples
// travel in the binary attachment announced by Binary.
type AudioChunkHeader struct {
	DeviceID  string `json:"deviceId"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
	Recording bool   `json:"recording"`
	Binary    bool   `json:"binary,omitempty"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type ChatSent struct {
	ID        string `json:"id"`
	Delivered bool   `json:"delivered"`
	Timestamp int64  `json:"timestamp"`
}

// DeliveryStatus is advisory message-state metadata, forward-only.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Supersedes reports whether s is a forward transition from prev.
func (s DeliveryStatus) Supersedes(prev DeliveryStatus) bool {
	return s.rank() > prev.rank()
}

type ChatStatus struct {
	ID        string         `json:"id"`
	Status    DeliveryStatus `json:"status"`
	Actor     string         `json:"actor"`
	Timestamp int64          `json:"timestamp"`
}

type CommandPayload struct {
	Type      string          `json:"type"`
	DeviceID  string          `json:"deviceId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type CriticalAlert struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Severity  string          `json:"severity"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}

type ParentLocation struct {
	ParentID  string  `json:"parentId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
	Speed     float64 `json:"speed,omitempty"`
	Bearing   float64 `json:"bearing,omitempty"`
}

type PhotoRequest struct {
	TargetDevice string `json:"targetDevice"`
	RequestID    string `json:"requestId"`
}

type Photo struct {
	RequestID string `json:"requestId"`
	Image     string `json:"image"`
	Timestamp int64  `json:"timestamp"`
}

type PhotoError struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}
