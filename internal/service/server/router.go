package server

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
	"github.com/santiagosayshey/OMesh/internal/directory"
	"github.com/santiagosayshey/OMesh/internal/model"
	"github.com/santiagosayshey/OMesh/internal/protocol/envelope"
	"github.com/santiagosayshey/OMesh/internal/protocol/guard"
	"github.com/santiagosayshey/OMesh/internal/utils/log"
)

// Mode is the router's operating state. The maintenance sentinel, carried
// in an ordinary public_chat message, toggles between the two.
type Mode int

const (
	ModeNormal Mode = iota
	ModeMaintenance
)

// MaintenanceSentinel is the reserved public_chat message that toggles
// maintenance mode. While in maintenance everything except public_chat
// traffic is silently dropped.
const MaintenanceSentinel = "never gonna give you up"

type (
	// link is one outbound half of a connection. Send never blocks the
	// dispatch loop; the transport queues behind it.
	link interface {
		Send(raw []byte)
		Close()
	}

	// client is one connected client. The fingerprint is empty until a
	// valid hello arrives.
	client struct {
		link        link
		fingerprint string
	}

	// peerConn is one federation connection. addr is empty on inbound
	// connections until server_hello binds it.
	peerConn struct {
		link link
		addr string
	}

	// PeerKeys resolves a neighbour address to its out-of-band public key.
	// server_hello is never trusted on key material it carries itself.
	PeerKeys interface {
		PublicKeyFor(addr string) *rsa.PublicKey
	}

	// ForwardQueue stores chat copies for configured neighbours that are
	// currently unreachable, to be flushed on reconnect.
	ForwardQueue interface {
		Enqueue(ctx context.Context, addr string, raw []byte) error
		Drain(ctx context.Context, addr string) ([][]byte, error)
	}

	// Router is the dispatch state machine for every inbound message,
	// keyed by connection role and message type. All methods must be
	// called from a single dispatch loop; handlers run to completion
	// between suspension points, which is what makes the table mutations
	// atomic without locks.
	Router struct {
		self    string
		priv    *rsa.PrivateKey
		counter uint64
		mode    Mode

		guard *guard.Registry
		dir   *directory.Directory

		byFingerprint map[string]*client
		clients       map[*client]bool
		peers         map[string]*peerConn

		neighbours map[string]bool
		peerKeys   PeerKeys
		queue      ForwardQueue
	}
)

// NewRouter builds a router for the server identified by self. counterSeed
// becomes the first value of this server's own signing counter; seeding it
// from the wall clock keeps our envelopes acceptable to peers whose guard
// state survived our restart.
func NewRouter(self string, priv *rsa.PrivateKey, neighbours []string, peerKeys PeerKeys, queue ForwardQueue, counterSeed uint64) *Router {
	r := &Router{
		self:          self,
		priv:          priv,
		counter:       counterSeed,
		guard:         guard.NewRegistry(),
		dir:           directory.New(self),
		byFingerprint: make(map[string]*client),
		clients:       make(map[*client]bool),
		peers:         make(map[string]*peerConn),
		neighbours:    make(map[string]bool),
		peerKeys:      peerKeys,
		queue:         queue,
	}
	for _, addr := range neighbours {
		r.neighbours[addr] = true
	}
	return r
}

func (r *Router) Mode() Mode { return r.mode }

func (r *Router) nextCounter() uint64 {
	r.counter++
	return r.counter
}

// ClientConnected registers a fresh, not-yet-identified client connection.
func (r *Router) ClientConnected(c *client) {
	r.clients[c] = true
}

// HandleClientMessage dispatches one raw message from a client connection.
// Failures never close the connection: clients are tolerated, not trusted.
func (r *Router) HandleClientMessage(c *client, raw []byte) {
	msg, err := envelope.Decode(raw)
	if err != nil {
		log.Warn("dropping malformed client message", zap.Error(err))
		return
	}

	if r.mode == ModeMaintenance && msg.Inner != model.TypePublicChat {
		return
	}

	switch {
	case msg.Type == model.TypeSignedData && msg.Inner == model.TypeHello:
		r.handleHello(c, msg, raw)

	case msg.Type == model.TypeSignedData:
		if c.fingerprint == "" {
			log.Warn("dropping message from client that has not sent hello")
			return
		}
		if _, err := r.verifyFromSender(c.fingerprint, raw); err != nil {
			log.Warn("dropping client envelope",
				zap.String("fingerprint", c.fingerprint),
				zap.Error(err))
			return
		}
		switch msg.Inner {
		case model.TypeChat:
			r.routeChat(msg.Chat, raw)
		case model.TypePublicChat:
			r.handlePublicChat(msg.PublicChat, raw, true)
		default:
			log.Warn("dropping unexpected signed payload from client",
				zap.String("inner", string(msg.Inner)))
		}

	case msg.Type == model.TypeClientListRequest:
		r.sendClientList(c)

	default:
		log.Warn("dropping unexpected client message", zap.String("type", string(msg.Type)))
	}
}

// handleHello derives the fingerprint from the embedded public key,
// registers the client, and broadcasts a directory delta to every peer.
func (r *Router) handleHello(c *client, msg *envelope.Message, raw []byte) {
	pub, err := identity.ParsePublicKeyPEM([]byte(msg.Hello.PublicKey))
	if err != nil {
		log.Warn("dropping hello with unparsable public key", zap.Error(err))
		return
	}
	fp := identity.Fingerprint(pub)

	last := uint64(0)
	if r.guard.Known(fp) {
		last = r.guard.LastCounter(fp)
	}
	env, err := envelope.VerifySigned(raw, pub, last)
	if err != nil {
		log.Warn("dropping hello with invalid envelope", zap.Error(err))
		return
	}

	if !r.guard.Known(fp) {
		r.guard.Register(fp, pub)
	}
	if err := r.guard.Accept(fp, env.Counter); err != nil {
		log.Warn("dropping hello", zap.Error(err))
		return
	}

	// A reconnecting fingerprint displaces its previous connection.
	if prev, ok := r.byFingerprint[fp]; ok && prev != c {
		prev.fingerprint = ""
		delete(r.clients, prev)
		prev.link.Close()
	}

	c.fingerprint = fp
	r.byFingerprint[fp] = c
	r.dir.RegisterLocalClient(fp, pub)
	log.Info("registered client", zap.String("fingerprint", fp))

	r.broadcastClientUpdate()
}

// verifyFromSender re-derives and checks the signed payload against the
// sender's registered key, then advances the replay counter.
func (r *Router) verifyFromSender(fingerprint string, raw []byte) (*model.Envelope, error) {
	pub := r.guard.PublicKey(fingerprint)
	if pub == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSender, fingerprint)
	}
	env, err := envelope.VerifySigned(raw, pub, r.guard.LastCounter(fingerprint))
	if err != nil {
		return nil, err
	}
	if err := r.guard.Accept(fingerprint, env.Counter); err != nil {
		return nil, err
	}
	return env, nil
}

// HandleServerMessage dispatches one raw message from a peer connection.
// A non-nil return is a trust violation; the caller must close the
// connection. Merely malformed traffic is dropped with the link kept open.
func (r *Router) HandleServerMessage(p *peerConn, raw []byte) error {
	msg, err := envelope.Decode(raw)
	if err != nil {
		log.Warn("dropping malformed peer message",
			zap.String("peer", p.addr), zap.Error(err))
		return nil
	}

	if r.mode == ModeMaintenance && msg.Inner != model.TypePublicChat {
		return nil
	}

	switch {
	case msg.Type == model.TypeSignedData && msg.Inner == model.TypeServerHello:
		return r.handleServerHello(p, msg, raw)

	case msg.Type == model.TypeSignedData && msg.Inner == model.TypeChat:
		if p.addr == "" {
			log.Warn("dropping chat from unidentified peer")
			return nil
		}
		// Forwarded chats are re-signed by the forwarding server.
		pub := r.peerKeys.PublicKeyFor(p.addr)
		if pub == nil {
			return fmt.Errorf("%w: no pre-shared key for server %s", ErrUnknownSender, p.addr)
		}
		fp := identity.Fingerprint(pub)
		// The outbound-dial side never sees a server_hello from this peer,
		// so the pre-shared key is registered on first traffic instead.
		if !r.guard.Known(fp) {
			r.guard.Register(fp, pub)
		}
		if _, err := r.verifyFromSender(fp, raw); err != nil {
			return fmt.Errorf("peer %s chat: %w", p.addr, err)
		}
		r.routeChat(msg.Chat, raw)
		return nil

	case msg.Type == model.TypeSignedData && msg.Inner == model.TypePublicChat:
		// public_chat crosses the federation verbatim, still carrying the
		// originating client's signature; verify against the directory.
		sender := msg.PublicChat.Sender
		if !r.guard.Known(sender) {
			pub, _, ok := r.dir.Lookup(sender)
			if !ok {
				log.Warn("dropping public_chat from unknown sender",
					zap.String("sender", sender))
				return nil
			}
			r.guard.Register(sender, pub)
		}
		if _, err := r.verifyFromSender(sender, raw); err != nil {
			// The peer relays client broadcasts verbatim; a stale counter
			// is the originating client's doing, not the peer's.
			if errors.Is(err, envelope.ErrReplayDetected) {
				log.Warn("dropping replayed public_chat",
					zap.String("sender", sender), zap.String("peer", p.addr))
				return nil
			}
			return fmt.Errorf("peer %s public_chat: %w", p.addr, err)
		}
		r.handlePublicChat(msg.PublicChat, raw, false)
		return nil

	case msg.Type == model.TypeClientUpdate:
		if p.addr == "" {
			log.Warn("dropping client_update from unidentified peer")
			return nil
		}
		r.applyClientUpdate(p.addr, msg.ClientUpdate)
		return nil

	case msg.Type == model.TypeClientUpdateRequest:
		if p.addr == "" {
			return nil
		}
		r.sendClientUpdate(p)
		return nil

	default:
		log.Warn("dropping unexpected peer message",
			zap.String("peer", p.addr), zap.String("type", string(msg.Type)))
		return nil
	}
}

// handleServerHello authenticates a peer against its pre-shared key and
// binds the connection to the peer's address.
func (r *Router) handleServerHello(p *peerConn, msg *envelope.Message, raw []byte) error {
	addr := msg.ServerHello.Sender
	pub := r.peerKeys.PublicKeyFor(addr)
	if pub == nil {
		return fmt.Errorf("%w: no pre-shared key for server %s", ErrUnknownSender, addr)
	}

	fp := identity.Fingerprint(pub)
	// Peer guard state survives reconnects; register only on first contact.
	if !r.guard.Known(fp) {
		r.guard.Register(fp, pub)
	}
	if _, err := r.verifyFromSender(fp, raw); err != nil {
		return fmt.Errorf("server_hello from %s: %w", addr, err)
	}

	if prev, ok := r.peers[addr]; ok && prev != p {
		prev.addr = ""
		prev.link.Close()
	}
	p.addr = addr
	r.peers[addr] = p
	log.Info("bound peer connection", zap.String("peer", addr))

	r.flushQueued(addr)
	return nil
}

// PeerConnected runs when an outbound dial succeeds: identify ourselves,
// ask for the peer's directory, and flush anything queued while it was
// down.
func (r *Router) PeerConnected(p *peerConn) {
	r.peers[p.addr] = p

	env, err := envelope.BuildSigned(model.ServerHello{
		Type:   model.TypeServerHello,
		Sender: r.self,
	}, r.priv, r.nextCounter())
	if err != nil {
		log.Error("building server_hello failed", zap.Error(err))
		return
	}
	r.sendJSON(p.link, env)
	r.sendJSON(p.link, model.ClientUpdateRequest{Type: model.TypeClientUpdateRequest})
	r.sendClientUpdate(p)

	r.flushQueued(p.addr)
}

// ClientDisconnected cleans up a client's state and broadcasts the
// directory delta. Unrelated connections are untouched.
func (r *Router) ClientDisconnected(c *client) {
	delete(r.clients, c)
	if c.fingerprint == "" {
		return
	}
	if cur, ok := r.byFingerprint[c.fingerprint]; !ok || cur != c {
		return // already displaced by a reconnect
	}
	delete(r.byFingerprint, c.fingerprint)
	r.guard.Remove(c.fingerprint)
	r.dir.RemoveLocalClient(c.fingerprint)
	log.Info("client disconnected", zap.String("fingerprint", c.fingerprint))
	c.fingerprint = ""

	r.broadcastClientUpdate()
}

// PeerDisconnected drops the peer from the live table. Its directory
// entries stay until the next snapshot replaces them.
func (r *Router) PeerDisconnected(p *peerConn) {
	if p.addr == "" {
		return
	}
	if cur, ok := r.peers[p.addr]; ok && cur == p {
		delete(r.peers, p.addr)
		log.Info("peer disconnected", zap.String("peer", p.addr))
	}
}

// routeChat fans a chat out to its destination servers: local delivery for
// our own address, a narrowed re-signed copy per reachable peer, a queued
// copy for configured-but-down neighbours, and a logged drop for anything
// unknown. At most one hop per recipient.
func (r *Router) routeChat(chat *model.Chat, raw []byte) {
	if len(chat.DestinationServers) == 0 {
		log.Warn("chat with no destination servers")
		return
	}
	for _, dest := range chat.DestinationServers {
		switch {
		case dest == r.self:
			r.deliverToClients(raw)

		case r.peers[dest] != nil:
			narrowed, err := r.narrowChat(chat, dest)
			if err != nil {
				log.Error("narrowing chat failed", zap.Error(err))
				continue
			}
			r.peers[dest].link.Send(narrowed)

		case r.neighbours[dest] && r.queue != nil:
			narrowed, err := r.narrowChat(chat, dest)
			if err != nil {
				log.Error("narrowing chat failed", zap.Error(err))
				continue
			}
			if err := r.queue.Enqueue(context.Background(), dest, narrowed); err != nil {
				log.Error("queueing chat for offline peer failed",
					zap.String("peer", dest), zap.Error(err))
			}

		default:
			log.Error("dropping chat copy", zap.String("dest", dest),
				zap.Error(ErrUnreachableDestination))
		}
	}
}

// narrowChat re-addresses a copy of chat to exactly one destination and
// re-signs it under this server's identity; the narrowed field list would
// no longer match the client's signature.
func (r *Router) narrowChat(chat *model.Chat, dest string) ([]byte, error) {
	copied := *chat
	copied.DestinationServers = []string{dest}
	env, err := envelope.BuildSigned(copied, r.priv, r.nextCounter())
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// handlePublicChat floods a public chat: local delivery always, peer
// forwarding only on the client-origin edge so a broadcast can never loop.
func (r *Router) handlePublicChat(pc *model.PublicChat, raw []byte, fromClient bool) {
	if pc.Message == MaintenanceSentinel {
		r.toggleMaintenance()
	}

	r.deliverToClients(raw)
	if fromClient {
		for _, p := range r.peers {
			p.link.Send(raw)
		}
	}
}

func (r *Router) toggleMaintenance() {
	if r.mode == ModeNormal {
		r.mode = ModeMaintenance
		log.Warn("entering maintenance mode: dropping all non-public_chat traffic")
	} else {
		r.mode = ModeNormal
		log.Warn("leaving maintenance mode")
	}
}

func (r *Router) deliverToClients(raw []byte) {
	for c := range r.clients {
		c.link.Send(raw)
	}
}

// applyClientUpdate replaces the peer's slice of the directory with the
// snapshot it sent. Guard state for pruned remote clients is released
// with the directory entry: a remote client that disconnects restarts
// its counter on reconnect, like a local one.
func (r *Router) applyClientUpdate(addr string, update *model.ClientUpdate) {
	pubs := make([]*rsa.PublicKey, 0, len(update.Clients))
	for _, pemStr := range update.Clients {
		pub, err := identity.ParsePublicKeyPEM([]byte(pemStr))
		if err != nil {
			log.Warn("skipping unparsable client key in update",
				zap.String("peer", addr), zap.Error(err))
			continue
		}
		pubs = append(pubs, pub)
	}
	pruned := r.dir.ApplyRemoteSnapshot(addr, pubs)
	for _, fp := range pruned {
		if _, local := r.byFingerprint[fp]; local {
			continue
		}
		r.guard.Remove(fp)
	}
	log.Info("applied client update", zap.String("peer", addr), zap.Int("clients", len(pubs)))
}

// sendClientUpdate sends this server's local client snapshot to one peer.
func (r *Router) sendClientUpdate(p *peerConn) {
	update, err := r.localUpdate()
	if err != nil {
		log.Error("building client update failed", zap.Error(err))
		return
	}
	r.sendJSON(p.link, update)
}

// broadcastClientUpdate sends the local snapshot to every connected peer,
// run on every local membership change.
func (r *Router) broadcastClientUpdate() {
	update, err := r.localUpdate()
	if err != nil {
		log.Error("building client update failed", zap.Error(err))
		return
	}
	for _, p := range r.peers {
		r.sendJSON(p.link, update)
	}
}

func (r *Router) localUpdate() (*model.ClientUpdate, error) {
	pubs := r.dir.LocalClientsSnapshot()
	clients := make([]string, 0, len(pubs))
	for _, pub := range pubs {
		pemBytes, err := identity.ExportPublicKeyPEM(pub)
		if err != nil {
			return nil, err
		}
		clients = append(clients, string(pemBytes))
	}
	return &model.ClientUpdate{Type: model.TypeClientUpdate, Clients: clients}, nil
}

// sendClientList answers a client with the full directory grouped by
// owning server.
func (r *Router) sendClientList(c *client) {
	groups, err := r.dir.Grouped()
	if err != nil {
		log.Error("building client list failed", zap.Error(err))
		return
	}
	r.sendJSON(c.link, model.ClientList{Type: model.TypeClientList, Servers: groups})
}

// flushQueued drains the store-and-forward queue for a peer that just
// came (back) online.
func (r *Router) flushQueued(addr string) {
	if r.queue == nil {
		return
	}
	p, ok := r.peers[addr]
	if !ok {
		return
	}
	msgs, err := r.queue.Drain(context.Background(), addr)
	if err != nil {
		log.Error("draining forward queue failed", zap.String("peer", addr), zap.Error(err))
		return
	}
	for _, raw := range msgs {
		p.link.Send(raw)
	}
	if len(msgs) > 0 {
		log.Info("flushed queued messages", zap.String("peer", addr), zap.Int("count", len(msgs)))
	}
}

func (r *Router) sendJSON(l link, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal outbound message failed", zap.Error(err))
		return
	}
	l.Send(raw)
}
