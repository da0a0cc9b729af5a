package client

import (
	"net/url"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
	"github.com/santiagosayshey/OMesh/internal/model"
	"github.com/santiagosayshey/OMesh/internal/protocol/envelope"
)

func (c *App) dial() (*websocket.Conn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   c.serverAddr,
		Path:   "/",
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *App) nextCounter() uint64 {
	return atomic.AddUint64(&c.counter, 1)
}

// sendSigned wraps data in a signed envelope under our identity and a
// fresh counter, and writes it to the server.
func (c *App) sendSigned(data any) error {
	env, err := envelope.BuildSigned(data, c.priv, c.nextCounter())
	if err != nil {
		return err
	}
	return c.writeJSON(env)
}

func (c *App) writeJSON(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *App) sendHello() error {
	pemBytes, err := identity.ExportPublicKeyPEM(&c.priv.PublicKey)
	if err != nil {
		return err
	}
	return c.sendSigned(model.Hello{
		Type:      model.TypeHello,
		PublicKey: string(pemBytes),
	})
}

func (c *App) requestClientList() error {
	return c.writeJSON(model.ClientListRequest{
		Type: model.TypeClientListRequest,
	})
}
