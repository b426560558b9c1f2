package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-translator/internal/observability"
	"github.com/lexiqai/audio-translator/internal/pipeline"
)

// Event types pushed to subscribers
const (
	EventTranslationReady = "translation_ready"
	EventCompleted        = "completed"
	EventFailed           = "failed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	subscriberSend = 32
)

// Event is one message on the /v1/events stream
type Event struct {
	Type      string                           `json:"type"`
	MessageID string                           `json:"messageId"`
	Language  string                           `json:"language,omitempty"`
	Index     int                              `json:"index,omitempty"`
	Total     int                              `json:"total,omitempty"`
	Version   *pipeline.TranslatedAudioVersion `json:"version,omitempty"`
	Result    *pipeline.PipelineResult         `json:"result,omitempty"`
	Error     string                           `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// subscriber is one websocket listening for a message id
type subscriber struct {
	id        string
	messageID string
	conn      *websocket.Conn
	send      chan Event
	done      chan struct{}
	once      sync.Once
	logger    zerolog.Logger
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans pipeline events out to websocket subscribers by message id
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[*subscriber]struct{})}
}

// Publish queues ev for every subscriber of its message id. Slow subscribers
// lose events rather than block the pipeline.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[ev.MessageID] {
		select {
		case sub.send <- ev:
		default:
			sub.logger.Warn().Str("type", ev.Type).Msg("Subscriber queue full, dropping event")
		}
	}
}

// Subscribers returns how many listeners a message id has
func (h *Hub) Subscribers(messageID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[messageID])
}

// ReadyFunc adapts the hub to pipeline progress callbacks
func (h *Hub) ReadyFunc(messageID string) pipeline.ReadyFunc {
	return func(language string, v *pipeline.TranslatedAudioVersion, index, total int) {
		h.Publish(Event{
			Type:      EventTranslationReady,
			MessageID: messageID,
			Language:  language,
			Index:     index,
			Total:     total,
			Version:   v,
		})
	}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[sub.messageID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subscribers[sub.messageID] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subscribers[sub.messageID]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.messageID)
	}
}

// HandleEvents upgrades GET /v1/events?messageId=... to a websocket
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	messageID := r.URL.Query().Get("messageId")
	if messageID == "" {
		http.Error(w, "messageId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	sub := &subscriber{
		id:        uuid.NewString(),
		messageID: messageID,
		conn:      conn,
		send:      make(chan Event, subscriberSend),
		done:      make(chan struct{}),
	}
	sub.logger = observability.WithMessage(sub.id, messageID)
	h.register(sub)
	sub.logger.Info().Msg("Event subscriber connected")

	go sub.writeLoop()
	sub.readLoop()

	h.unregister(sub)
	sub.close()
	sub.logger.Info().Msg("Event subscriber disconnected")
}

// readLoop only watches for close frames and pongs; clients send nothing
func (s *subscriber) readLoop() {
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to write event")
				return
			}
			if ev.Type == EventCompleted || ev.Type == EventFailed {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ev.Type),
					time.Now().Add(writeWait))
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}
