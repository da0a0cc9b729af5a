package server

import (
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/santiagosayshey/OMesh/internal/utils/log"
)

// maintainNeighbour keeps one outbound federation connection alive:
// dial, handshake, read until the link drops, then redial with capped
// exponential backoff. After reconnectAttempts consecutive failures the
// neighbour is given up on until the process restarts.
func (s *Server) maintainNeighbour(addr string) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	backoff := reconnectBase
	failures := 0

	for {
		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			failures++
			if failures > reconnectAttempts {
				log.Error("giving up on neighbour",
					zap.String("peer", addr), zap.Int("attempts", failures-1))
				return
			}
			log.Warn("neighbour dial failed, backing off",
				zap.String("peer", addr),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			time.Sleep(backoff)
			backoff *= 2
			if backoff > reconnectCap {
				backoff = reconnectCap
			}
			continue
		}

		failures = 0
		backoff = reconnectBase
		log.Info("connected to neighbour", zap.String("peer", addr))

		l := newWSLink(conn)
		p := &peerConn{link: l, addr: addr}
		s.do(func() { s.router.PeerConnected(p) })

		s.peerReadLoop(p, conn, l) // blocks until the connection drops

		log.Warn("lost neighbour connection, will redial", zap.String("peer", addr))
		time.Sleep(backoff)
	}
}
