package routesync

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves:
//
//	GET /ws       WebSocket stream of Message values
//	GET /routes   latest Message as JSON (204 before the first publish)
//	GET /metrics  Prometheus metrics of the hub
//	GET /healthz  liveness check
func (h *Hub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.websocketHandler)
	r.Get("/routes", h.routesHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (h *Hub) routesHandler(w http.ResponseWriter, _ *http.Request) {
	msg, ok := h.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"`+msg.Fingerprint+`"`)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		h.log.Error("encode routes", "error", err)
	}
}

func (h *Hub) websocketHandler(w http.ResponseWriter, r *http.Request) {
	// Don't accept new connections if shutting down
	select {
	case <-h.ctx.Done():
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.websocketErrors.WithLabelValues("upgrade").Inc()
		return
	}

	c := &client{
		id:     r.RemoteAddr,
		notify: make(chan Message, 1),
		closer: conn.Close,
	}

	// Non-blocking send in case the hub is shutting down
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	unregister := func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		default:
			// Channel full or closed, the hub will clean up
		}
	}
	defer unregister()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unregister()
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-c.notify:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.metrics.websocketErrors.WithLabelValues("write").Inc()
				return
			}
		case <-h.ctx.Done():
			return
		}
	}
}
