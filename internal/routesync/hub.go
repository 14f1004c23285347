// Package routesync pushes route snapshots to development tooling over
// WebSockets. Every published snapshot is fingerprinted; identical snapshots
// are not re-sent, and clients that connect late immediately receive the
// latest one.
package routesync

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vormadev/pagestree/kit/colorlog"
	"github.com/vormadev/pagestree/pagestructure"
	"golang.org/x/crypto/blake2b"
)

const (
	MessageTypeRoutes = "routes"
	defaultNamespace  = "pagestree"
)

var ErrClosed = errors.New("routesync: hub is closed")

type Message struct {
	Type        string                  `json:"type"`
	Revision    uint64                  `json:"revision"`
	Fingerprint string                  `json:"fingerprint"`
	Snapshot    *pagestructure.Snapshot `json:"snapshot"`
}

type Options struct {
	Logger    *slog.Logger         // Optional. Defaults to a colorlog logger labelled "routesync".
	Registry  *prometheus.Registry // Optional. Defaults to a fresh registry.
	Namespace string               // Optional. Metrics namespace, defaults to "pagestree".
}

// Hub fans published snapshots out to connected clients.
type Hub struct {
	ctx      context.Context
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan Message
	done       chan struct{} // closed once the manager loop has stopped

	pubMu           sync.Mutex
	lastFingerprint string

	latestMu sync.RWMutex
	latest   *Message
}

type client struct {
	id     string
	notify chan Message
	closer func() error
}

// NewHub starts a hub that runs until ctx is cancelled.
func NewHub(ctx context.Context, opts ...Options) *Hub {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Logger == nil {
		o.Logger = colorlog.New("routesync")
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	if o.Namespace == "" {
		o.Namespace = defaultNamespace
	}

	h := &Hub{
		ctx:        ctx,
		log:        o.Logger,
		registry:   o.Registry,
		metrics:    newMetrics(o.Registry, o.Namespace),
		clients:    make(map[*client]bool),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		broadcast:  make(chan Message),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// Fingerprint returns a stable hex digest of the JSON form of snap.
func Fingerprint(snap *pagestructure.Snapshot) (string, []byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", nil, err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:16]), data, nil
}

// Publish broadcasts snap unless it is identical to the previously published
// snapshot. It reports whether a broadcast happened.
func (h *Hub) Publish(ctx context.Context, revision uint64, snap *pagestructure.Snapshot) (bool, error) {
	fp, data, err := Fingerprint(snap)
	if err != nil {
		return false, err
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	if fp == h.lastFingerprint {
		h.metrics.unchanged.Inc()
		h.log.Debug("snapshot unchanged", "fingerprint", fp)
		return false, nil
	}

	msg := Message{Type: MessageTypeRoutes, Revision: revision, Fingerprint: fp, Snapshot: snap}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
		return false, ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
	h.lastFingerprint = fp

	dirs, routes := snap.Count()
	h.metrics.broadcasts.Inc()
	h.metrics.routes.Set(float64(routes))
	h.metrics.directories.Set(float64(dirs))
	h.metrics.snapshotBytes.Observe(float64(len(data)))
	h.log.Info("routes published", "fingerprint", fp, "routes", routes, "revision", revision)
	return true, nil
}

// Latest returns the most recently broadcast message.
func (h *Hub) Latest() (Message, bool) {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	if h.latest == nil {
		return Message{}, false
	}
	return *h.latest, true
}

func (h *Hub) Registry() *prometheus.Registry {
	return h.registry
}

// Wait blocks until the hub has fully stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			for c := range h.clients {
				close(c.notify)
				_ = c.closer()
			}
			h.metrics.clients.Set(0)
			h.drainChannels()
			return

		case c := <-h.register:
			h.clients[c] = true
			h.metrics.clients.Set(float64(len(h.clients)))
			h.log.Debug("client connected", "id", c.id)
			if latest, ok := h.Latest(); ok {
				h.deliver(c, latest)
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.notify)
				_ = c.closer()
				h.metrics.clients.Set(float64(len(h.clients)))
				h.log.Debug("client disconnected", "id", c.id)
			}

		case msg := <-h.broadcast:
			h.latestMu.Lock()
			h.latest = &msg
			h.latestMu.Unlock()
			for c := range h.clients {
				h.deliver(c, msg)
			}
		}
	}
}

// deliver queues msg for c. A client that has not yet read its previous
// message gets it replaced, so slow clients only ever see the newest snapshot.
func (h *Hub) deliver(c *client, msg Message) {
	select {
	case c.notify <- msg:
		return
	default:
	}
	select {
	case <-c.notify:
		h.metrics.replaced.Inc()
	default:
	}
	select {
	case c.notify <- msg:
	default:
	}
}

// drainChannels empties buffered channels to prevent goroutine leaks
func (h *Hub) drainChannels() {
	for {
		select {
		case c := <-h.register:
			_ = c.closer()
		case c := <-h.unregister:
			_ = c.closer()
		default:
			return
		}
	}
}
