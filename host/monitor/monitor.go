// Package monitor serves live session progress over HTTP and WebSocket.
package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"eggplot/plotter/session"
)

// ErrNoSession is returned for control requests before a session is attached
var ErrNoSession = errors.New("no session attached")

// Controller is the part of a session remote clients may drive
type Controller interface {
	RequestPause() error
	RequestResume() error
	RequestStop() error
}

// Request is a control message sent by a WebSocket client
type Request struct {
	Action string `json:"action"` // "pause", "resume" or "stop"
}

// Reply answers a control message
type Reply struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Server broadcasts session events to WebSocket clients and keeps the
// latest event for /status. It implements session.Observer.
type Server struct {
	addr       string
	logger     *slog.Logger
	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	clientMu sync.Mutex
	clients  map[int64]*client
	nextID   int64

	lastMu sync.RWMutex
	last   *session.Event

	control atomic.Value // Controller
}

var _ session.Observer = (*Server)(nil)

// New creates a monitor listening on addr
func New(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		addr:    addr,
		logger:  logger,
		clients: make(map[int64]*client),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetController attaches the session remote clients control
func (s *Server) SetController(c Controller) {
	s.control.Store(&c)
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/websocket", s.handleWebSocket)
	r.Get("/status", s.handleStatus)
	return r
}

// Start serves until Stop is called. Once stopped, Start returns
// immediately.
func (s *Server) Start() error {
	s.logger.Info("monitor listening", "addr", s.addr)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes every client and the HTTP server
func (s *Server) Stop() error {
	s.clientMu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clients = make(map[int64]*client)
	s.clientMu.Unlock()

	return s.httpServer.Close()
}

// Notify records the event and broadcasts it to every client
func (s *Server) Notify(e session.Event) {
	s.lastMu.Lock()
	s.last = &e
	s.lastMu.Unlock()

	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for _, c := range s.clients {
		c.Send(e)
	}
}

// Last returns the most recent event
func (s *Server) Last() (session.Event, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return session.Event{}, false
	}
	return *s.last, true
}

// Clients returns the number of connected WebSocket clients
func (s *Server) Clients() int {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return len(s.clients)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := s.Last()
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, Reply{Error: "no session"})
		return
	}
	render.JSON(w, r, e)
}

// dispatch runs a control request against the attached session
func (s *Server) dispatch(req Request) Reply {
	reply := Reply{Action: req.Action}

	var err error
	ctl, _ := s.control.Load().(*Controller)
	switch {
	case ctl == nil:
		err = ErrNoSession
	case req.Action == "pause":
		err = (*ctl).RequestPause()
	case req.Action == "resume":
		err = (*ctl).RequestResume()
	case req.Action == "stop":
		err = (*ctl).RequestStop()
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}

	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	return reply
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := s.newClient(conn)

	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()

	s.logger.Debug("websocket client connected", "client", c.id)

	go c.writePump()

	if e, ok := s.Last(); ok {
		c.Send(e)
	}

	c.readPump() // Blocks until connection closes
}

func (s *Server) removeClient(c *client) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()

	s.logger.Debug("websocket client disconnected", "client", c.id)
}
