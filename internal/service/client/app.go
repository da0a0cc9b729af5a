package client

import (
	"crypto/rsa"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
	"github.com/santiagosayshey/OMesh/internal/model"
	"github.com/santiagosayshey/OMesh/internal/protocol/envelope"
	"github.com/santiagosayshey/OMesh/internal/protocol/hybrid"
	"github.com/santiagosayshey/OMesh/internal/utils/log"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		serverAddr  string // host:port of our server's client websocket
		priv        *rsa.PrivateKey
		fingerprint string
		counter     uint64

		conn *websocket.Conn
		wmu  sync.Mutex // gorilla allows one concurrent writer

		mu     sync.Mutex
		known  map[string]*rsa.PublicKey // fingerprint -> public key
		owners map[string]string         // fingerprint -> owning server address
	}
)

func NewApp(serverAddr string, priv *rsa.PrivateKey) *App {
	return &App{
		app:         tview.NewApplication(),
		serverAddr:  serverAddr,
		priv:        priv,
		fingerprint: identity.Fingerprint(&priv.PublicKey),
		known:       make(map[string]*rsa.PublicKey),
		owners:      make(map[string]string),
	}
}

func (c *App) Run() {
	conn, err := c.dial()
	if err != nil {
		log.Fatal("connecting to server failed", zap.Error(err))
	}
	c.conn = conn

	if err := c.sendHello(); err != nil {
		log.Fatal("hello failed", zap.Error(err))
	}
	if err := c.requestClientList(); err != nil {
		log.Fatal("client_list_request failed", zap.Error(err))
	}

	go c.listen()
	c.renderUI()
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", shortFP(c.fingerprint)))

	c.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" /public <msg> | /to <fp,...> <msg> | /list ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(line string) {
			if err := c.execute(line); err != nil {
				c.printf("[red]error:[-] %v", err)
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (c *App) execute(line string) error {
	switch {
	case line == "/list":
		if err := c.requestClientList(); err != nil {
			return err
		}
		c.showKnown()
		return nil

	case strings.HasPrefix(line, "/public "):
		return c.sendPublicChat(strings.TrimPrefix(line, "/public "))

	case strings.HasPrefix(line, "/to "):
		rest := strings.TrimPrefix(line, "/to ")
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			return fmt.Errorf("usage: /to <fp[,fp...]> <message>")
		}
		return c.sendChat(strings.Split(parts[0], ","), parts[1])

	default:
		return fmt.Errorf("unknown command (try /public, /to, /list)")
	}
}

func (c *App) listen() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("server connection closed", zap.Error(err))
			c.conn.Close()
			return
		}

		msg, err := envelope.Decode(raw)
		if err != nil {
			log.Warn("dropping message from server", zap.Error(err))
			continue
		}
		c.handleIncoming(msg)
	}
}

func (c *App) handleIncoming(msg *envelope.Message) {
	switch {
	case msg.Type == model.TypeClientList:
		c.applyClientList(msg.ClientList)

	case msg.Type == model.TypeSignedData && msg.Inner == model.TypePublicChat:
		c.printf("[aqua]%s (public):[-] %s",
			shortFP(msg.PublicChat.Sender), msg.PublicChat.Message)

	case msg.Type == model.TypeSignedData && msg.Inner == model.TypeChat:
		body, ok := hybrid.Open(msg.Chat, c.priv)
		if !ok {
			return // not addressed to us
		}
		if !contains(body.Participants, c.fingerprint) {
			return
		}
		sender := "?"
		if len(body.Participants) > 0 {
			sender = shortFP(body.Participants[0])
		}
		c.printf("[green]%s:[-] %s", sender, body.Message)
	}
}

func (c *App) applyClientList(list *model.ClientList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = make(map[string]*rsa.PublicKey)
	c.owners = make(map[string]string)
	for _, srv := range list.Servers {
		for _, pemStr := range srv.Clients {
			pub, err := identity.ParsePublicKeyPEM([]byte(pemStr))
			if err != nil {
				continue
			}
			fp := identity.Fingerprint(pub)
			c.known[fp] = pub
			c.owners[fp] = srv.Address
		}
	}
}

func (c *App) showKnown() {
	c.mu.Lock()
	fps := make([]string, 0, len(c.known))
	for fp := range c.known {
		fps = append(fps, fp)
	}
	c.mu.Unlock()

	sort.Strings(fps)
	c.printf("[yellow]known clients:[-]")
	for _, fp := range fps {
		marker := ""
		if fp == c.fingerprint {
			marker = " (you)"
		}
		c.printf("  %s%s", fp, marker)
	}
}

// sendChat builds the hybrid-encrypted group message: recipients'
// servers become the destination list, participants[0] is us.
func (c *App) sendChat(recipients []string, message string) error {
	c.mu.Lock()
	pubs := make([]*rsa.PublicKey, 0, len(recipients))
	participants := []string{c.fingerprint}
	destSet := make(map[string]bool)
	for _, fp := range recipients {
		fp = strings.TrimSpace(fp)
		pub, ok := c.known[fp]
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("unknown recipient %s (try /list)", fp)
		}
		pubs = append(pubs, pub)
		participants = append(participants, fp)
		destSet[c.owners[fp]] = true
	}
	c.mu.Unlock()

	destinations := make([]string, 0, len(destSet))
	for addr := range destSet {
		destinations = append(destinations, addr)
	}
	sort.Strings(destinations)

	chat, err := hybrid.Seal(model.ChatBody{
		Participants: participants,
		Message:      message,
	}, pubs, destinations)
	if err != nil {
		return err
	}
	if err := c.sendSigned(chat); err != nil {
		return err
	}

	c.printf("[yellow]you:[-] %s", message)
	return nil
}

func (c *App) sendPublicChat(message string) error {
	err := c.sendSigned(model.PublicChat{
		Type:    model.TypePublicChat,
		Sender:  c.fingerprint,
		Message: message,
	})
	if err != nil {
		return err
	}
	c.printf("[yellow]you (public):[-] %s", message)
	return nil
}

func (c *App) printf(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format+"\n", args...)
		c.chatbox.ScrollToEnd()
	})
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
