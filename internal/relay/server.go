package relay

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// ServerOptions adjusts the relay's HTTP surface.
type ServerOptions struct {
	// AllowedOrigins restricts websocket upgrades to the listed Origin
	// header values. Empty allows any origin; identity proofs do the real
	// authentication either way.
	AllowedOrigins []string
}

func (o ServerOptions) checkOrigin(r *http.Request) bool {
	if len(o.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range o.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeWS upgrades an HTTP request and hands the socket to the hub.
func ServeWS(h *Hub, opts ServerOptions) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  maxMessageSize,
		WriteBufferSize: maxMessageSize,
		CheckOrigin:     opts.checkOrigin,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		s := newSession(h, conn)
		h.register <- s
		go s.writePump()
		go s.readPump()
	}
}

// Handler builds the relay's HTTP surface: the websocket endpoint at / and
// a liveness probe at /health.
func Handler(h *Hub, opts ServerOptions) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/", ServeWS(h, opts))
	return mux
}
