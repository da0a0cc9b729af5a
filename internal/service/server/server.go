package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/santiagosayshey/OMesh/internal/config"
	"github.com/santiagosayshey/OMesh/internal/utils/log"
)

const outboxDepth = 64

// Keepalive for the client listener. A client that vanishes without a
// close frame must still be detected, or its guard and directory entries
// outlive it and replay-reject its reconnect. Variables so tests can
// shrink the timings.
var (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second // under pongWait, pings keep the deadline fed
)

const controlWriteWait = 10 * time.Second

type (
	// Server owns the three listeners (client websocket, server websocket,
	// HTTP file surface) and the single dispatch loop that serializes all
	// router work. Connection read loops and writer goroutines only touch
	// shared state by posting closures onto the loop.
	Server struct {
		cfg    *config.Config
		router *Router

		events chan func()
		done   chan struct{}

		upgrader websocket.Upgrader
	}

	// wsLink adapts a websocket connection to the router's link interface:
	// a buffered outbox drained by one writer goroutine, so sends from the
	// dispatch loop never block.
	wsLink struct {
		conn *websocket.Conn
		out  chan []byte
		once sync.Once
		quit chan struct{}
	}
)

func NewServer(cfg *config.Config, router *Router) *Server {
	return &Server{
		cfg:    cfg,
		router: router,
		events: make(chan func(), 256),
		done:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // clients connect cross-origin from the web UI
			},
		},
	}
}

// Run starts the listeners, the dispatch loop, and the neighbour dialers.
// It blocks until one of the listeners fails.
func (s *Server) Run() error {
	go s.dispatchLoop()

	for _, addr := range s.cfg.Neighbours {
		go s.maintainNeighbour(addr)
	}

	errs := make(chan error, 3)

	clientMux := mux.NewRouter()
	clientMux.HandleFunc("/", s.handleClientWS)
	go func() {
		addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.ClientPort)
		log.Info("client websocket listening", zap.String("addr", addr))
		errs <- http.ListenAndServe(addr, clientMux)
	}()

	serverMux := mux.NewRouter()
	serverMux.HandleFunc("/", s.handleServerWS)
	go func() {
		addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.ServerPort)
		log.Info("server websocket listening", zap.String("addr", addr))
		errs <- http.ListenAndServe(addr, serverMux)
	}()

	go func() {
		errs <- s.serveFiles()
	}()

	return <-errs
}

// dispatchLoop executes posted handlers one at a time. Run-to-completion
// between suspension points is what lets the router mutate its tables
// without locks.
func (s *Server) dispatchLoop() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// do posts work onto the dispatch loop.
func (s *Server) do(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

func (s *Server) handleClientWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("client upgrade failed", zap.Error(err))
		return
	}

	l := newWSLink(conn)
	c := &client{link: l}
	s.do(func() { s.router.ClientConnected(c) })
	log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go pingLoop(conn, l)

	go func() {
		defer l.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Debug("client read loop ended",
					zap.Error(errors.Join(ErrConnectionLost, err)))
				break
			}
			s.do(func() { s.router.HandleClientMessage(c, raw) })
		}
		s.do(func() { s.router.ClientDisconnected(c) })
	}()
}

func (s *Server) handleServerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("server upgrade failed", zap.Error(err))
		return
	}

	l := newWSLink(conn)
	p := &peerConn{link: l}
	log.Info("inbound server connection", zap.String("remote", conn.RemoteAddr().String()))

	go s.peerReadLoop(p, conn, l)
}

// peerReadLoop feeds peer traffic into the dispatch loop. Trust violations
// reported by the router close the connection; anything else keeps it open.
func (s *Server) peerReadLoop(p *peerConn, conn *websocket.Conn, l *wsLink) {
	defer l.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug("peer read loop ended",
				zap.Error(errors.Join(ErrConnectionLost, err)))
			break
		}
		s.do(func() {
			if err := s.router.HandleServerMessage(p, raw); err != nil {
				log.Error("closing peer connection after trust violation",
					zap.String("peer", p.addr), zap.Error(err))
				l.Close()
			}
		})
	}
	s.do(func() { s.router.PeerDisconnected(p) })
}

// pingLoop keeps the read deadline fed for connections that go quiet.
// WriteControl is safe alongside the link's writer goroutine.
func pingLoop(conn *websocket.Conn, l *wsLink) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(controlWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-l.quit:
			return
		}
	}
}

func newWSLink(conn *websocket.Conn) *wsLink {
	l := &wsLink{
		conn: conn,
		out:  make(chan []byte, outboxDepth),
		quit: make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

func (l *wsLink) writeLoop() {
	for {
		select {
		case raw := <-l.out:
			if err := l.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Debug("write failed, closing link", zap.Error(err))
				l.Close()
				return
			}
		case <-l.quit:
			return
		}
	}
}

// Send enqueues without blocking; a full outbox drops the message, which
// is within the best-effort delivery contract.
func (l *wsLink) Send(raw []byte) {
	select {
	case l.out <- raw:
	case <-l.quit:
	default:
		log.Warn("outbox full, dropping outbound message")
	}
}

func (l *wsLink) Close() {
	l.once.Do(func() {
		close(l.quit)
		_ = l.conn.Close()
	})
}

// Close stops the dispatch loop.
func (s *Server) Close() {
	close(s.done)
}

// backoff settings for neighbour redials: capped doubling, bounded count.
const (
	reconnectBase     = time.Second
	reconnectCap      = 30 * time.Second
	reconnectAttempts = 10
)
