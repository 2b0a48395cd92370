package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/models"
	"github.com/esnunes/tcgen/internal/notify"
	"github.com/esnunes/tcgen/internal/poller"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	wsPingInterval      = 30 * time.Second
	wsWriteTimeout      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsMessage is pushed to dashboard viewers.
type wsMessage struct {
	Type    string `json:"type"` // "show" or "clear"
	ID      uint64 `json:"id"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func newWSMessage(ev notify.Event) wsMessage {
	if ev.Cleared {
		return wsMessage{Type: "clear", ID: ev.Notification.ID}
	}
	return wsMessage{
		Type:    "show",
		ID:      ev.Notification.ID,
		Kind:    string(ev.Notification.Kind),
		Message: ev.Notification.Message,
	}
}

type notificationData struct {
	Notification models.Notification
	Active       bool
}

func (s *Server) renderNotification(w http.ResponseWriter) {
	n, ok := s.board.Current()
	s.renderFragment(w, "notification.html", notificationData{Notification: n, Active: ok})
}

// handleNotification serves the current notification for clients without
// a WebSocket.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	s.renderNotification(w)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	items, err := s.queries.ListNotifications(limit)
	if err != nil {
		log.Error().Err(err).Msg("Listing notifications")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.renderFragment(w, "history.html", items)
}

// handleWebSocket streams notification events to a dashboard viewer. The
// job poller runs while at least one viewer is connected.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	events, cancel := s.board.Subscribe()
	s.addViewer()
	defer func() {
		cancel()
		s.removeViewer()
		conn.Close()
	}()

	go s.writeEvents(conn, events)

	// Read until the client goes away; viewers send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket closed")
			}
			return
		}
	}
}

func (s *Server) writeEvents(conn *websocket.Conn, events <-chan notify.Event) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	if n, ok := s.board.Current(); ok {
		if err := writeWS(conn, newWSMessage(notify.Event{Notification: n})); err != nil {
			return
		}
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeWS(conn, newWSMessage(ev)); err != nil {
				log.Debug().Err(err).Msg("Writing WebSocket event")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func writeWS(conn *websocket.Conn, msg wsMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}

func (s *Server) addViewer() {
	s.viewersMu.Lock()
	defer s.viewersMu.Unlock()
	s.viewers++
	log.Debug().Int("viewers", s.viewers).Msg("Dashboard viewer connected")
	if s.viewers == 1 {
		if err := s.poller.Start(s.baseCtx); err != nil && !errors.Is(err, poller.ErrAlreadyRunning) {
			log.Error().Err(err).Msg("Starting job poller")
		}
	}
}

func (s *Server) removeViewer() {
	s.viewersMu.Lock()
	defer s.viewersMu.Unlock()
	s.viewers--
	log.Debug().Int("viewers", s.viewers).Msg("Dashboard viewer disconnected")
	if s.viewers == 0 {
		s.poller.Stop()
	}
}
