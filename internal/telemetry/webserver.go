package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/netsdr/internal/logging"
)

const wsWriteWait = 5 * time.Second

// WebServer exposes hub statistics, history and live updates over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger

	upgrader websocket.Upgrader
}

// NewWebServer builds the telemetry HTTP server.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	w := &WebServer{
		hub:    hub,
		logger: logging.OrDefault(logger).With(logging.F("subsystem", "telemetry-web")),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 16384,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", hub.handleStats)
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/config", hub.handleConfig)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/ws", w.handleWebSocket)

	w.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return w
}

// Handler returns the server's routes, mainly for tests.
func (w *WebServer) Handler() http.Handler {
	return w.srv.Handler
}

// Start listens until ctx is canceled. It returns nil after a clean shutdown.
func (w *WebServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.F("error", err))
		}
	}()

	w.logger.Info("web telemetry listening", logging.F("addr", w.srv.Addr))
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *WebServer) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		w.logger.Debug("websocket upgrade failed", logging.F("error", err))
		return
	}
	defer conn.Close()

	ch, cancel := w.hub.Subscribe()
	defer cancel()

	// The reader only watches for the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(w.hub.Stats()); err != nil {
		return
	}

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(sample); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
