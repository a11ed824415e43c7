package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record/notify"
	"github.com/censo/censo/backend/go-services/internal/record/service"
	"github.com/censo/censo/backend/go-services/pkg/logger"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

const writeWait = 5 * time.Second

// WatchMessage is one frame of the watch stream.
type WatchMessage struct {
	Type         string                `json:"type"`
	Snapshot     *service.Snapshot     `json:"snapshot,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

// watch streams snapshots of one record, plus notifications, until the
// client goes away.
func (h *Handler) watch(c *gin.Context) {
	o, err := h.mgr.Open(c.Request.Context(), c.Param("date"))
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originHosts,
	})
	if err != nil {
		logger.Warnf("records: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// client frames are ignored; CloseRead ends ctx when the peer leaves
	ctx := conn.CloseRead(context.Background())

	snaps := o.Watch(ctx)
	var notes <-chan notify.Notification
	if h.notes != nil {
		ch, cancel := h.notes.Subscribe()
		defer cancel()
		notes = ch
	}

	for {
		var msg WatchMessage
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snaps:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "record closed")
				return
			}
			msg = WatchMessage{Type: "snapshot", Snapshot: &s}
		case n, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			msg = WatchMessage{Type: "notification", Notification: &n}
		}
		if err := send(ctx, conn, msg); err != nil {
			logger.Debugf("records: watch client gone: %v", err)
			return
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, msg WatchMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
