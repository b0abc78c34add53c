// Package hub is the server end of the progress channel: a websocket
// endpoint that runs canned simulations and streams their progress to the
// connection that asked for them.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/observability"
	"github.com/jamicool/PPD/internal/progress"
)

const (
	maxPayloadBytes = 1 << 20
	pongWait        = 60 * time.Second
	pingPeriod      = 45 * time.Second
	writeWait       = 10 * time.Second
	sendBuffer      = 64
)

type Options struct {
	// Steps is the number of progress increments; Steps+1 events from 0 to
	// 100 are sent.
	Steps     int
	StepDelay time.Duration
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

type Hub struct {
	steps     int
	stepDelay time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
	newID     func() string

	mu    sync.Mutex
	conns map[*session]struct{}
}

func New(opts Options) *Hub {
	if opts.Steps <= 0 {
		opts.Steps = 10
	}
	if opts.StepDelay < 0 {
		opts.StepDelay = 0
	}
	return &Hub{
		steps:     opts.Steps,
		stepDelay: opts.StepDelay,
		logger:    observability.OrDiscard(opts.Logger),
		metrics:   opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		newID: uuid.NewString,
		conns: make(map[*session]struct{}),
	}
}

// Connections returns the number of open sessions.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every open session and cancels their simulations.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.conns))
	for s := range h.conns {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.cancel()
		s.conn.Close()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// the session outlives the upgrade request's context
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		hub:    h,
		id:     h.newID(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}

	h.mu.Lock()
	h.conns[s] = struct{}{}
	h.mu.Unlock()
	h.metrics.HubConnected()
	h.logger.Info("hub client connected", "connection_id", s.id, "remote", r.RemoteAddr)

	s.run()

	h.mu.Lock()
	delete(h.conns, s)
	h.mu.Unlock()
	h.metrics.HubDisconnected()
	h.logger.Info("hub client disconnected", "connection_id", s.id)
}

type task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// session is one websocket connection. Simulations are keyed by project id
// within it.
type session struct {
	hub    *Hub
	id     string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

func (s *session) run() {
	go s.writeLoop()
	s.emit(s.ctx, progress.EventConnected, progress.ConnectedPayload{ConnectionID: s.id})
	s.readLoop()

	s.cancel()
	s.wg.Wait()
	s.conn.Close()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := progress.DecodeFrame(data)
		if err != nil || frame.Type != progress.FrameInvoke {
			s.hub.logger.Warn("dropping malformed client frame", "connection_id", s.id, "error", err)
			continue
		}

		switch frame.Method {
		case progress.MethodStartSimulation:
			params, err := progress.DecodePayload[progress.StartParams](frame.Params)
			if err != nil || params.ProjectID == "" {
				s.emit(s.ctx, progress.EventError, "StartSimulation requires a projectId")
				continue
			}
			s.start(params.ProjectID)
		case progress.MethodStopSimulation:
			params, err := progress.DecodePayload[progress.StopParams](frame.Params)
			if err != nil || params.ProjectID == "" {
				s.emit(s.ctx, progress.EventError, "StopSimulation requires a projectId")
				continue
			}
			s.stop(params.ProjectID)
		default:
			s.emit(s.ctx, progress.EventError, "unknown method "+frame.Method)
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.cancel()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// emit queues an event for the writer. It gives up when ctx ends, which
// for simulation events is the task's own context.
func (s *session) emit(ctx context.Context, event progress.EventName, payload any) bool {
	frame, err := progress.NewEvent(event, payload)
	if err != nil {
		s.hub.logger.Error("failed to encode event", "event", event, "error", err)
		return false
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.hub.logger.Error("failed to encode event", "event", event, "error", err)
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// start launches a simulation for projectID, replacing any still running
// for the same project on this connection.
func (s *session) start(projectID string) {
	s.mu.Lock()
	if old, ok := s.tasks[projectID]; ok {
		old.cancel()
		s.mu.Unlock()
		<-old.done
		s.mu.Lock()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{id: s.hub.newID(), cancel: cancel, done: make(chan struct{})}
	s.tasks[projectID] = t
	s.wg.Add(1)
	s.mu.Unlock()

	s.hub.metrics.SimulationStarted()
	s.hub.logger.Info("simulation started", "connection_id", s.id, "project_id", projectID, "task_id", t.id)
	s.emit(ctx, progress.EventQueued, progress.QueuedPayload{TaskID: t.id, ProjectID: projectID})

	go s.simulate(ctx, projectID, t)
}

func (s *session) simulate(ctx context.Context, projectID string, t *task) {
	outcome := "stopped"
	defer func() {
		s.mu.Lock()
		if s.tasks[projectID] == t {
			delete(s.tasks, projectID)
		}
		s.mu.Unlock()
		t.cancel()
		close(t.done)
		s.hub.metrics.SimulationFinished(outcome)
		s.wg.Done()
	}()

	steps := s.hub.steps
	for i := 0; i <= steps; i++ {
		if !s.emit(ctx, progress.EventProgress, i*100/steps) {
			return
		}
		if i == steps {
			break
		}
		timer := time.NewTimer(s.hub.stepDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	now := time.Now().UTC()
	result := model.SimulationResult{
		ProjectID:         projectID,
		TaskID:            t.id,
		NodeResults:       map[string]any{},
		ConnectionResults: map[string]any{},
		IsSuccessful:      true,
		SimulationTime:    &now,
	}
	if s.emit(ctx, progress.EventCompleted, result) {
		outcome = "completed"
		s.hub.logger.Info("simulation completed", "connection_id", s.id, "project_id", projectID, "task_id", t.id)
	}
}

// stop cancels the project's simulation, waits for it to wind down and
// acknowledges with SimulationStopped. No progress for the task follows
// the acknowledgement.
func (s *session) stop(projectID string) {
	s.mu.Lock()
	t, ok := s.tasks[projectID]
	s.mu.Unlock()
	if ok {
		t.cancel()
		<-t.done
		s.hub.logger.Info("simulation stopped", "connection_id", s.id, "project_id", projectID, "task_id", t.id)
	}
	s.emit(s.ctx, progress.EventStopped, projectID)
}
