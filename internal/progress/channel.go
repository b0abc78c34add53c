package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/observability"
	"github.com/jamicool/PPD/internal/retry"
)

const (
	writeWait       = 10 * time.Second
	maxPayloadBytes = 1 << 20

	// readWait outlasts the hub's ping period, so a healthy connection
	// always delivers something before the read deadline passes.
	readWait = 60 * time.Second
)

// State is the connection state of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives the raw payload of one event. Handlers run on the
// channel's reader goroutine and must not block for long.
type Handler func(payload json.RawMessage)

var ErrNotConnected = fmt.Errorf("progress channel not connected: %w", model.ErrTransport)

// Channel is a self-healing websocket connection to the simulation hub.
// It connects on first use and reconnects with backoff whenever the
// connection drops, until Close.
type Channel struct {
	url      string
	dialer   *websocket.Dialer
	policy   retry.Config
	readWait time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	started bool
	ready   chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[EventName]map[uint64]Handler
	nextID uint64
}

type Option func(*Channel)

func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = observability.OrDiscard(l) }
}

// WithDialer replaces the websocket dialer, e.g. to set a handshake timeout.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// withReconnectPolicy lets tests shorten reconnect delays.
func withReconnectPolicy(p retry.Config) Option {
	return func(c *Channel) { c.policy = p }
}

func withReadWait(d time.Duration) Option {
	return func(c *Channel) { c.readWait = d }
}

func NewChannel(url string, opts ...Option) *Channel {
	c := &Channel{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		policy: retry.Config{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Factor:       2,
			Jitter:       true,
		},
		readWait: readWait,
		logger:   observability.Discard(),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[EventName]map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop on first call and waits for its first
// dial attempt. Later calls return at once. A failed attempt is reported
// as ErrNotConnected while reconnection carries on in the background.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.started = true
		loopCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.run(loopCtx)
	}
	c.mu.Unlock()

	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.State() != Connected {
		return ErrNotConnected
	}
	return nil
}

// Close stops reconnecting and closes the current connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	if !c.started {
		c.started = true
		close(c.ready)
		close(c.done)
		c.mu.Unlock()
		return nil
	}
	cancel, conn := c.cancel, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	<-c.done
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	backoff := retry.NewBackoff(c.policy)
	first := true
	signalReady := func() {
		if first {
			first = false
			close(c.ready)
		}
	}
	defer signalReady()

	for ctx.Err() == nil {
		c.setState(Connecting, nil)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.setState(Disconnected, nil)
			c.logger.Warn("simulation hub unreachable", "url", c.url, "error", err)
			signalReady()
			if retry.Sleep(ctx, backoff.Next()) != nil {
				return
			}
			continue
		}

		backoff.Reset()
		c.setState(Connected, conn)
		c.logger.Info("connected to simulation hub", "url", c.url)
		signalReady()

		err = c.readLoop(conn)
		c.setState(Disconnected, nil)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("simulation hub connection lost", "error", err)
		if retry.Sleep(ctx, backoff.Next()) != nil {
			return
		}
	}
}

func (c *Channel) setState(s State, conn *websocket.Conn) {
	c.mu.Lock()
	c.state = s
	c.conn = conn
	c.mu.Unlock()
}

// readLoop dispatches events until the connection fails. A connection
// that stays silent past readWait, pings included, counts as failed.
func (c *Channel) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(maxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(c.readWait)) //nolint:errcheck
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.readWait)) //nolint:errcheck
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readWait)) //nolint:errcheck
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed hub frame", "error", err)
			continue
		}
		if frame.Type != FrameEvent {
			continue
		}
		c.dispatch(frame.Event, frame.Payload)
	}
}

func (c *Channel) dispatch(event EventName, payload json.RawMessage) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[event]))
	for _, h := range c.subs[event] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

// Subscribe registers h for event. Several handlers may share an event;
// the returned function removes this one.
func (c *Channel) Subscribe(event EventName, h Handler) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextID++
	id := c.nextID
	if c.subs[event] == nil {
		c.subs[event] = make(map[uint64]Handler)
	}
	c.subs[event][id] = h
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs[event], id)
			c.subMu.Unlock()
		})
	}
}

// subscribeTyped decodes the payload into T before calling h. Payloads
// that do not decode are logged and skipped.
func subscribeTyped[T any](c *Channel, event EventName, h func(T)) func() {
	return c.Subscribe(event, func(raw json.RawMessage) {
		v, err := DecodePayload[T](raw)
		if err != nil {
			c.logger.Warn("dropping undecodable event", "event", event, "error", err)
			return
		}
		h(v)
	})
}

// OnConnected fires with the hub's connection id each time a connection
// is established, reconnects included.
func (c *Channel) OnConnected(h func(connectionID string)) func() {
	return subscribeTyped(c, EventConnected, func(p ConnectedPayload) { h(p.ConnectionID) })
}

func (c *Channel) OnQueued(h func(QueuedPayload)) func() {
	return subscribeTyped(c, EventQueued, h)
}

func (c *Channel) OnProgress(h func(percent int)) func() {
	return subscribeTyped(c, EventProgress, h)
}

func (c *Channel) OnCompleted(h func(model.SimulationResult)) func() {
	return subscribeTyped(c, EventCompleted, h)
}

func (c *Channel) OnError(h func(message string)) func() {
	return subscribeTyped(c, EventError, h)
}

func (c *Channel) OnStopped(h func(projectID string)) func() {
	return subscribeTyped(c, EventStopped, h)
}

// StartSimulation asks the hub to simulate project. It reports whether
// the request was sent; when not connected it is dropped.
func (c *Channel) StartSimulation(projectID string, project *model.Project) bool {
	return c.invoke(MethodStartSimulation, StartParams{ProjectID: projectID, Project: project})
}

// StopSimulation asks the hub to stop the simulation of projectID. Like
// StartSimulation it is dropped when not connected.
func (c *Channel) StopSimulation(projectID string) bool {
	return c.invoke(MethodStopSimulation, StopParams{ProjectID: projectID})
}

func (c *Channel) invoke(method string, params any) bool {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != Connected || conn == nil {
		c.logger.Debug("hub not connected, dropping invocation", "method", method)
		return false
	}

	frame, err := NewInvoke(method, params)
	if err != nil {
		c.logger.Error("failed to encode invocation", "method", method, "error", err)
		return false
	}
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("failed to encode invocation", "method", method, "error", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Warn("failed to send invocation", "method", method, "error", err)
		}
		return false
	}
	return true
}
