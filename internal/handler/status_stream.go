package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storytime-server/internal/messaging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 512
)

// StatusStream - источник событий статуса для WebSocket подписчиков.
type StatusStream interface {
	Subscribe(storyID uuid.UUID) *messaging.Subscription
}

var _ StatusStream = (*messaging.StatusHub)(nil)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Источник проверяется на шлюзе вместе с остальным API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamStatus отдает по WebSocket текущий статус истории, а затем каждое его изменение.
// Браузер не может передать заголовок при апгрейде, поэтому владелец принимается и из query.
func (h *StoryHandler) streamStatus(c *gin.Context) {
	id, ok := h.storyID(c)
	if !ok {
		return
	}
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		userID = c.Query("userId")
	}

	// Подписка до чтения статуса, чтобы не потерять переход между ними.
	sub := h.stream.Subscribe(id)
	defer sub.Close()

	view, err := h.service.GetStatus(c.Request.Context(), id, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("story_id", id.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("story_id", id.String()))
	log.Debug("Status stream opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		drainClient(conn)
	}()

	var errMsg string
	if view.Error != nil {
		errMsg = *view.Error
	}
	if err := writeEvent(conn, messaging.NewStoryStatusEvent(id, userID, view.Status, errMsg, time.Now())); err != nil {
		log.Debug("Failed to write initial status", zap.Error(err))
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				log.Debug("Failed to write status event", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			log.Debug("Status stream closed by client")
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev messaging.StoryStatusEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}

// drainClient читает входящие кадры до закрытия соединения. Содержимое игнорируется,
// чтение нужно для обработки pong и close.
func drainClient(conn *websocket.Conn) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
