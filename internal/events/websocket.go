package events

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-vod/backend/internal/models"
	"github.com/aura-vod/backend/internal/videos"
	"github.com/aura-vod/backend/pkg/response"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs browser origins
	},
}

// Message is the websocket envelope.
type Message struct {
	Event string      `json:"event"`
	Data  StatusEvent `json:"data"`
}

// Subscriber delivers status events of one video.
type Subscriber interface {
	Subscribe(ctx context.Context, id uuid.UUID, handler func(StatusEvent)) (cancel func(), err error)
}

// Lookup loads the current record of a video.
type Lookup func(ctx context.Context, id uuid.UUID) (*models.Video, error)

// ServeStatus upgrades GET /videos/:id/events to a websocket that first sends the current status and then
// every status change.
func ServeStatus(sub Subscriber, lookup Lookup, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid video id")
			return
		}
		v, err := lookup(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, videos.ErrNotFound) {
				response.NotFound(c, "video not found")
				return
			}
			response.Internal(c, "failed to load video")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		send := make(chan StatusEvent, sendBuffer)
		stop, err := sub.Subscribe(ctx, id, func(ev StatusEvent) {
			select {
			case send <- ev:
			default:
				logger.Debug("dropping status event for slow client", zap.String("video_id", id.String()))
			}
		})
		if err != nil {
			logger.Warn("status subscription failed", zap.String("video_id", id.String()), zap.Error(err))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
			_ = conn.Close()
			return
		}
		defer stop()

		send <- NewStatusEvent(v)
		go readPump(conn, cancel)
		writePump(ctx, conn, send)
	}
}

// readPump discards client messages and cancels the connection context once the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan StatusEvent) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Message{Event: EventStatus, Data: ev}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
