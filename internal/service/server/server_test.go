package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santiagosayshey/OMesh/internal/config"
)

// clientCount reads router state through the dispatch loop, the only
// place it may be touched.
func clientCount(s *Server, r *Router) int {
	ch := make(chan int, 1)
	s.do(func() { ch <- len(r.clients) })
	return <-ch
}

func TestVanishedClientDetectedByKeepalive(t *testing.T) {
	oldPong, oldPing := pongWait, pingInterval
	pongWait, pingInterval = 200*time.Millisecond, 50*time.Millisecond
	defer func() { pongWait, pingInterval = oldPong, oldPing }()

	f := newFixture(t)
	s := NewServer(&config.Config{}, f.router)
	go s.dispatchLoop()
	defer s.Close()

	ts := httptest.NewServer(http.HandlerFunc(s.handleClientWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return clientCount(s, f.router) == 1 },
		time.Second, 10*time.Millisecond)

	// the dialed side never reads, so it never answers pings; the server
	// must notice and clean the connection up on its own
	assert.Eventually(t, func() bool { return clientCount(s, f.router) == 0 },
		2*time.Second, 20*time.Millisecond)
}

func TestResponsiveClientStaysConnected(t *testing.T) {
	oldPong, oldPing := pongWait, pingInterval
	pongWait, pingInterval = 200*time.Millisecond, 50*time.Millisecond
	defer func() { pongWait, pingInterval = oldPong, oldPing }()

	f := newFixture(t)
	s := NewServer(&config.Config{}, f.router)
	go s.dispatchLoop()
	defer s.Close()

	ts := httptest.NewServer(http.HandlerFunc(s.handleClientWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// reading services the ping handler, which answers with pongs
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	require.Eventually(t, func() bool { return clientCount(s, f.router) == 1 },
		time.Second, 10*time.Millisecond)

	time.Sleep(3 * pongWait)
	assert.Equal(t, 1, clientCount(s, f.router), "a live client must not be reaped")
}
