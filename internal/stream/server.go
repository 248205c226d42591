package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nse-alerts/internal/models"
	"nse-alerts/internal/store"
)

// History supplies the snapshot sent to a fresh connection.
type History interface {
	ListNotifications(ctx context.Context, filter store.NotificationFilter) ([]models.NotificationRecord, error)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Server exposes the hub over a websocket at /ws and a liveness probe at
// /health.
type Server struct {
	hub          *Hub
	history      History
	historyLimit int
	logger       zerolog.Logger
	upgrader     websocket.Upgrader

	listener net.Listener
	server   *http.Server
}

// NewServer creates a Server. history may be nil.
func NewServer(hub *Hub, history History, historyLimit int, logger zerolog.Logger) *Server {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	s := &Server{
		hub:          hub,
		history:      history,
		historyLimit: historyLimit,
		logger:       logger.With().Str("component", "dashboard").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on addr and serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dashboard listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Dashboard server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("address", listener.Addr().String()).Msg("Dashboard listening")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"hub":     s.hub.GetMetrics(),
		"started": s.hub.IsStarted(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	logger := s.logger.With().Str("subscriber", sub.ID).Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("Dashboard connected")

	if err := s.sendSnapshot(r.Context(), conn); err != nil {
		logger.Debug().Err(err).Msg("Snapshot send failed")
		return
	}

	// Reads only serve to notice the peer going away and to handle pongs.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Debug().Msg("Dashboard disconnected")
			return
		case ev, ok := <-sub.Channel:
			if !ok {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("Event write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	ev := models.Event{Type: models.EventMessagesList, Messages: []models.NotificationRecord{}, Timestamp: time.Now()}
	if s.history != nil {
		records, err := s.history.ListNotifications(ctx, store.NotificationFilter{Limit: s.historyLimit})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Loading message history failed")
		} else if records != nil {
			ev.Messages = records
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
