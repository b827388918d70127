package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairlink/internal/protocol"
)

// State of the one physical connection a Session owns.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected // transport up, registration not yet acknowledged
	StateActive    // registration acknowledged
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	}
	return "unknown"
}

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrSessionClosed  = errors.New("transport: session closed")
	ErrConnectionLost = errors.New("transport: connection lost")
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultBackoffBase  = 1 * time.Second
	defaultBackoffMax   = 60 * time.Second

	// eventChanSize buffers inbound events between the read loop and the
	// dispatcher so the read loop is never blocked on listener work.
	eventChanSize = 64
)

// Event is one inbound frame: its name, JSON args and, when the frame
// announced an attachment, the paired binary payload.
type Event struct {
	Name   string
	ID     *int
	Args   []json.RawMessage
	Binary []byte
}

// Arg unmarshals the event's first argument into v.
func (e Event) Arg(v any) error {
	return protocol.EventPacket{Args: e.Args}.Arg(v)
}

// Options configures a Session. Handler receives every inbound event in
// arrival order on a single dispatcher goroutine.
type Options struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration

	Handler     func(Event)
	OnConnected func()
	OnError     func(error)
	// ResetHook runs on every entry into Disconnected so per-session
	// counters can rewind before a logically new stream begins.
	ResetHook func()

	Logger *zap.Logger
}

// Session owns one websocket connection and its reconnection policy.
type Session struct {
	opts Options
	log  *zap.Logger

	state atomic.Int32

	mu     sync.Mutex
	ws     *websocket.Conn
	gen    int
	closed bool

	reconnecting atomic.Bool

	sendMu sync.Mutex

	ackMu      sync.Mutex
	nextAckID  int
	pendingAck map[int]chan []json.RawMessage

	events chan Event
	quit   chan struct{}
}

func NewSession(opts Options) *Session {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Session{
		opts:       opts,
		log:        opts.Logger,
		pendingAck: make(map[int]chan []json.RawMessage),
		events:     make(chan Event, eventChanSize),
		quit:       make(chan struct{}),
	}
	go s.dispatchLoop()
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) IsConnected() bool {
	st := s.State()
	return st == StateConnected || st == StateActive
}

// MarkActive records a successful registration handshake.
func (s *Session) MarkActive() {
	s.state.CompareAndSwap(int32(StateConnected), int32(StateActive))
}

// Connect dials the server. On failure the error is returned and the
// backoff loop keeps retrying in the background until Disconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		s.notifyError(err)
		s.scheduleReconnect()
		return err
	}
	return nil
}

// Disconnect stops reconnection and closes the connection. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ws := s.ws
	s.ws = nil
	s.mu.Unlock()

	close(s.quit)
	if ws != nil {
		_ = ws.Close()
	}
	s.state.Store(int32(StateDisconnected))
	s.failPendingAcks()
	if hook := s.opts.ResetHook; hook != nil {
		hook()
	}
}

func (s *Session) dial(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))

	dialer := websocket.Dialer{HandshakeTimeout: s.opts.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}

	// The server must speak first with the engine open frame.
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.DialTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("open frame: %w", err)
	}
	open, err := protocol.ParseOpen(string(data))
	if err != nil {
		_ = ws.Close()
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("open frame: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		s.state.Store(int32(StateDisconnected))
		return ErrSessionClosed
	}
	s.ws = ws
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.state.Store(int32(StateConnected))
	s.log.Info("transport connected", zap.String("sid", open.SID))

	go s.readLoop(gen, ws)

	if cb := s.opts.OnConnected; cb != nil {
		go cb()
	}
	return nil
}

func (s *Session) readLoop(gen int, ws *websocket.Conn) {
	var pending *Event

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			break
		}

		if mt == websocket.BinaryMessage {
			if pending == nil {
				s.log.Warn("binary frame without header, dropped")
				continue
			}
			ev := *pending
			ev.Binary = data
			pending = nil
			s.deliver(ev)
			continue
		}
		if mt != websocket.TextMessage || len(data) == 0 {
			continue
		}

		frame := string(data)
		switch frame[0] {
		case protocol.EnginePing:
			_ = s.writeText(string(protocol.EnginePong))
		case protocol.EngineClose:
			_ = ws.Close()
		case protocol.EngineMessage:
			payload := frame[1:]
			if payload == "" {
				continue
			}
			switch payload[0] {
			case protocol.SocketAck:
				ack, err := protocol.ParseAck(payload)
				if err != nil {
					s.log.Warn("malformed ack, dropped", zap.Error(err))
					continue
				}
				s.resolveAck(ack.ID, ack.Args)
			case protocol.SocketEvent:
				pkt, err := protocol.ParseEvent(payload)
				if err != nil {
					s.log.Warn("malformed event, dropped", zap.Error(err))
					continue
				}
				if pending != nil {
					s.log.Warn("attachment header superseded, dropped",
						zap.String("event", pending.Name))
					pending = nil
				}
				ev := Event{Name: pkt.Event, ID: pkt.ID, Args: pkt.Args}
				if protocol.HasAttachment(pkt.Args) {
					pending = &ev
				} else {
					s.deliver(ev)
				}
			default:
				s.log.Warn("unexpected socket packet, dropped")
			}
		}
	}

	s.handleDisconnect(gen, ws)
}

func (s *Session) deliver(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case ev := <-s.events:
			if h := s.opts.Handler; h != nil {
				h(ev)
			}
		case <-s.quit:
			return
		}
	}
}

func (s *Session) handleDisconnect(gen int, ws *websocket.Conn) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.ws == ws {
		s.ws = nil
	}
	closed := s.closed
	s.mu.Unlock()

	_ = ws.Close()
	s.state.Store(int32(StateDisconnected))
	s.failPendingAcks()
	if hook := s.opts.ResetHook; hook != nil {
		hook()
	}
	if closed {
		return
	}
	s.notifyError(ErrConnectionLost)
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go s.reconnectLoop()
}

func (s *Session) reconnectLoop() {
	defer s.reconnecting.Store(false)

	delay := s.opts.BackoffBase
	for {
		t := time.NewTimer(withJitter(delay))
		select {
		case <-s.quit:
			t.Stop()
			return
		case <-t.C:
		}

		err := s.dial(context.Background())
		if err == nil {
			return
		}
		if errors.Is(err, ErrSessionClosed) {
			return
		}
		s.log.Warn("reconnect failed", zap.Error(err), zap.Duration("backoff", delay))
		delay = nextDelay(delay, s.opts.BackoffMax)
	}
}

// nextDelay doubles the backoff up to the cap.
func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// withJitter spreads a delay uniformly over [d/2, 3d/2).
func withJitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

func (s *Session) notifyError(err error) {
	if cb := s.opts.OnError; cb != nil {
		go cb(err)
	}
}

// Send emits an event with a JSON payload.
func (s *Session) Send(event string, payload any) error {
	return s.send(nil, event, payload, nil)
}

// SendBinary emits an event followed by its binary attachment. The payload
// must announce the attachment (see protocol.HasAttachment).
func (s *Session) SendBinary(event string, payload any, attachment []byte) error {
	return s.send(nil, event, payload, attachment)
}

func (s *Session) writeText(msg string) error {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *Session) send(id *int, event string, payload any, attachment []byte) error {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil || !s.IsConnected() {
		return ErrNotConnected
	}

	var args []any
	if payload != nil {
		args = append(args, payload)
	}
	body, err := protocol.BuildEvent(id, event, args...)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(string(protocol.EngineMessage)+body)); err != nil {
		return err
	}
	if attachment != nil {
		return ws.WriteMessage(websocket.BinaryMessage, attachment)
	}
	return nil
}

// Emit sends an ack-carrying event and waits for the server's ack.
func (s *Session) Emit(ctx context.Context, event string, payload any) ([]json.RawMessage, error) {
	s.ackMu.Lock()
	s.nextAckID++
	id := s.nextAckID
	ch := make(chan []json.RawMessage, 1)
	s.pendingAck[id] = ch
	s.ackMu.Unlock()

	if err := s.send(&id, event, payload, nil); err != nil {
		s.dropAck(id)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-ctx.Done():
		s.dropAck(id)
		return nil, ctx.Err()
	case <-s.quit:
		s.dropAck(id)
		return nil, ErrSessionClosed
	}
}

func (s *Session) dropAck(id int) {
	s.ackMu.Lock()
	delete(s.pendingAck, id)
	s.ackMu.Unlock()
}

func (s *Session) resolveAck(id int, args []json.RawMessage) {
	s.ackMu.Lock()
	ch := s.pendingAck[id]
	delete(s.pendingAck, id)
	s.ackMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- args:
	default:
	}
}

func (s *Session) failPendingAcks() {
	s.ackMu.Lock()
	for id, ch := range s.pendingAck {
		delete(s.pendingAck, id)
		close(ch)
	}
	s.ackMu.Unlock()
}
