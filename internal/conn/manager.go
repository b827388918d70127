package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pairlink/internal/api"
	"pairlink/internal/protocol"
	"pairlink/internal/transport"
)

var (
	ErrNotConnected        = errors.New("conn: not connected")
	ErrHandshakeTimeout    = errors.New("conn: registration not acknowledged")
	ErrRegistrationRefused = errors.New("conn: registration refused")
)

const (
	defaultSocketPath     = "/ws"
	defaultHandshakeWait  = 5 * time.Second
	defaultHeartbeat      = 25 * time.Second
	defaultReregister     = 30 * time.Second
	defaultReconcileLimit = 50
)

// StateEvent is delivered to state listeners on connection transitions
// and transport errors.
type StateEvent struct {
	State transport.State
	Err   error
}

type (
	StateListener  func(StateEvent)
	ChatListener   func(protocol.ChatMessage)
	StatusListener func(protocol.ChatStatus)
	AudioListener  func(payload []byte, sequence, timestamp int64)
	CommandHandler func(protocol.CommandPayload)
)

// Options configures a Manager.
type Options struct {
	// ServerURL is the http(s) base address; the socket endpoint is
	// derived from it.
	ServerURL  string
	SocketPath string

	DeviceID   string
	DeviceName string
	// PeerID is the paired device. For the watcher role it is the target
	// device named in registration; on the receive side it scopes which
	// audio chunks are accepted.
	PeerID string
	Role   protocol.Role

	// API is used for missed-message reconciliation; nil disables it.
	API *api.Client
	// Store is the local chat store; defaults to an in-memory one.
	Store MessageStore

	HandshakeWait      time.Duration
	HeartbeatInterval  time.Duration
	ReregisterInterval time.Duration
	ReconcileLimit     int

	DialTimeout time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Logger *zap.Logger
}

// Manager is the single connection façade: it owns the transport session,
// the listener registries and the protocol drivers. Listener registrations
// live on the Manager, not the session, so they survive reconnection and
// session recreation.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu   sync.Mutex
	sess *transport.Session

	chat     *registry[ChatListener]
	status   *registry[StatusListener]
	audioLis *registry[AudioListener]
	state    *registry[StateListener]

	cmdMu    sync.RWMutex
	cmdNext  Handle
	commands map[string]map[Handle]CommandHandler

	hsMu    sync.Mutex
	hsEpoch int
	regCh   chan protocol.RegisteredPayload

	hbMu     sync.Mutex
	hbCancel context.CancelFunc

	gate    audioGate
	sendSeq sequencer

	store MessageStore
}

func New(opts Options) (*Manager, error) {
	if opts.ServerURL == "" {
		return nil, errors.New("conn: server URL required")
	}
	if opts.DeviceID == "" {
		return nil, errors.New("conn: device id required")
	}
	if !opts.Role.Valid() {
		return nil, fmt.Errorf("conn: invalid role %q", opts.Role)
	}
	if opts.SocketPath == "" {
		opts.SocketPath = defaultSocketPath
	}
	if opts.HandshakeWait <= 0 {
		opts.HandshakeWait = defaultHandshakeWait
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.ReregisterInterval <= 0 {
		opts.ReregisterInterval = defaultReregister
	}
	if opts.ReconcileLimit <= 0 {
		opts.ReconcileLimit = defaultReconcileLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}

	m := &Manager{
		opts:     opts,
		log:      opts.Logger,
		chat:     newRegistry[ChatListener](),
		status:   newRegistry[StatusListener](),
		audioLis: newRegistry[AudioListener](),
		state:    newRegistry[StateListener](),
		commands: make(map[string]map[Handle]CommandHandler),
		store:    store,
	}
	m.gate.reset()
	return m, nil
}

// SocketURL derives the ws(s) endpoint from the server base URL.
func SocketURL(serverURL, socketPath string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("conn: server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("conn: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + socketPath
	return u.String(), nil
}

// Start lazily constructs the transport session and connects. Safe to call
// again after Cleanup.
func (m *Manager) Start(ctx context.Context) error {
	sess, err := m.session()
	if err != nil {
		return err
	}
	return sess.Connect(ctx)
}

func (m *Manager) session() (*transport.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return m.sess, nil
	}

	wsURL, err := SocketURL(m.opts.ServerURL, m.opts.SocketPath)
	if err != nil {
		return nil, err
	}
	m.sess = transport.NewSession(transport.Options{
		URL:         wsURL,
		DialTimeout: m.opts.DialTimeout,
		BackoffBase: m.opts.BackoffBase,
		BackoffMax:  m.opts.BackoffMax,
		Handler:     m.route,
		OnConnected: m.onTransportConnected,
		OnError:     m.onTransportError,
		ResetHook:   m.onReset,
		Logger:      m.log.Named("transport"),
	})
	return m.sess, nil
}

func (m *Manager) currentSession() *transport.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

func (m *Manager) IsConnected() bool {
	if s := m.currentSession(); s != nil {
		return s.IsConnected()
	}
	return false
}

func (m *Manager) State() transport.State {
	if s := m.currentSession(); s != nil {
		return s.State()
	}
	return transport.StateDisconnected
}

// Store exposes the local chat store.
func (m *Manager) Store() MessageStore { return m.store }

// Cleanup cancels all periodic work, clears every listener registry and
// releases the transport session.
func (m *Manager) Cleanup() {
	m.stopHeartbeat()

	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()
	if sess != nil {
		sess.Disconnect()
	}

	m.chat.clear()
	m.status.clear()
	m.audioLis.clear()
	m.state.clear()
	m.cmdMu.Lock()
	m.commands = make(map[string]map[Handle]CommandHandler)
	m.cmdMu.Unlock()
}

// Listener registration. Multiple concurrent subscribers are supported;
// handles are scoped to their kind.

func (m *Manager) AddChatListener(l ChatListener) Handle     { return m.chat.add(l) }
func (m *Manager) RemoveChatListener(h Handle)               { m.chat.remove(h) }
func (m *Manager) AddStatusListener(l StatusListener) Handle { return m.status.add(l) }
func (m *Manager) RemoveStatusListener(h Handle)             { m.status.remove(h) }
func (m *Manager) AddAudioListener(l AudioListener) Handle   { return m.audioLis.add(l) }
func (m *Manager) RemoveAudioListener(h Handle)              { m.audioLis.remove(h) }
func (m *Manager) AddStateListener(l StateListener) Handle   { return m.state.add(l) }
func (m *Manager) RemoveStateListener(h Handle)              { m.state.remove(h) }

// route receives every inbound event in arrival order.
func (m *Manager) route(ev transport.Event) {
	switch ev.Name {
	case protocol.EventRegistered:
		m.handleRegistered(ev)
	case protocol.EventAudioChunk:
		m.handleAudioChunk(ev)
	case protocol.EventChatMessage:
		m.handleChatMessage(ev)
	case protocol.EventChatSent:
		m.handleChatSent(ev)
	case protocol.EventChatStatus:
		m.handleChatStatus(ev)
	case protocol.EventCommand:
		m.handleCommand(ev)
	case protocol.EventCriticalAlert:
		m.routeWrapped(protocol.CommandCriticalAlert, ev)
	case protocol.EventParentLocation:
		m.routeWrapped(protocol.CommandParentLocation, ev)
	case protocol.EventRequestPhoto:
		m.routeWrapped(protocol.CommandRequestPhoto, ev)
	case protocol.EventPhoto:
		m.routeWrapped(protocol.CommandPhoto, ev)
	case protocol.EventPhotoError:
		m.routeWrapped(protocol.CommandPhotoError, ev)
	default:
		m.log.Debug("unknown event, dropped", zap.String("event", ev.Name))
	}
}

func (m *Manager) notifyState(ev StateEvent) {
	for _, l := range m.state.snapshot() {
		m.safeCall("state listener", func() { l(ev) })
	}
}

func (m *Manager) onTransportError(err error) {
	m.notifyState(StateEvent{State: m.State(), Err: err})
}

// onReset runs on every entry into Disconnected: the next connected period
// may be a logically new stream, so per-session counters rewind.
func (m *Manager) onReset() {
	m.stopHeartbeat()
	m.gate.reset()
	m.notifyState(StateEvent{State: transport.StateDisconnected})
}

// safeCall fault-isolates one listener invocation.
func (m *Manager) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("listener panic recovered",
				zap.String("listener", what), zap.Any("panic", r))
		}
	}()
	fn()
}
