package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gdb-bridge/internal/logger"
	"gdb-bridge/internal/session"
)

const (
	pingInterval   = 30 * time.Second
	readDeadline   = 60 * time.Second
	writeDeadline  = 10 * time.Second
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The bridge serves local tooling; no origin policy.
	},
}

// Server accepts WebSocket clients, binds each new one to a fresh debugger
// session and feeds its messages to the Router.
type Server struct {
	sessions  *session.Manager
	router    *Router
	clients   map[*client]bool
	clientsMu sync.RWMutex
	staticDir string
	log       *logger.Logger
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	server    *Server
	log       *logger.Logger
}

// New creates a new realtime server.
func New(sessions *session.Manager, router *Router, staticDir string, log *logger.Logger) *Server {
	return &Server{
		sessions:  sessions,
		router:    router,
		clients:   make(map[*client]bool),
		staticDir: staticDir,
		log:       log,
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint. Legacy clients connect to "/",
	// which handleRoot also upgrades.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /session", s.handleGetSession)
	mux.HandleFunc("DELETE /session", s.handleDeleteSession)

	mux.HandleFunc("/", s.handleRoot)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	if s.staticDir != "" {
		http.FileServer(http.Dir(s.staticDir)).ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

// handleWebSocket upgrades the connection and makes it the active session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	id := uuid.New().String()
	c := &client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		server: s,
		log:    s.log.WithClientID(id),
	}
	c.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	// The connected message is queued by Connect; the write pump delivers it.
	if _, err := s.sessions.Connect(c); err != nil {
		c.log.Error("failed to start debugger session", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "debugger failed to start")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
		conn.Close()
		return
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	go c.writePump()
	go c.readPump()
}

// ID implements session.Channel.
func (c *client) ID() string {
	return c.id
}

// Send implements session.Channel. It blocks while the send queue is full
// and fails with session.ErrChannelClosed once the client is gone.
func (c *client) Send(data []byte) error {
	select {
	case <-c.done:
		return session.ErrChannelClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return session.ErrChannelClosed
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump reads messages from the WebSocket connection in order.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		c.server.router.Dispatch(c, message, msgType == websocket.BinaryMessage)
	}
}

// writePump is the only writer to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.close()
	s.router.Forget(c)
	s.sessions.Disconnect(c)
	c.log.Info("client disconnected")
}

// CloseClients disconnects every client. Used at shutdown, since hijacked
// connections are not closed by http.Server.Shutdown.
func (s *Server) CloseClients() {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.close()
		c.conn.Close()
	}
}
