package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/overlay/internal/outbox"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	changeEventName    = "change"
	heartbeatEventName = "heartbeat"
)

// handleChangeStream serves changes as server-sent events. Dispatcher
// messages only wake the loop; records are always read through the outbox
// so a dropped wake-up never skips a change.
func (h *httpHandler) handleChangeStream(c *gin.Context) {
	rawAfter := c.GetHeader("Last-Event-ID")
	if rawAfter == "" {
		rawAfter = c.Query("after")
	}
	query, err := parseChangeQuery(c, opStreamChanges, rawAfter)
	if err != nil {
		respondError(c, h.logger, http.StatusBadRequest, err)
		return
	}
	query.Limit = h.changes.BatchSize()

	ctx := c.Request.Context()
	var wake <-chan outbox.ChangeRecord
	if h.dispatcher != nil {
		stream, cleanup := h.dispatcher.Subscribe(ctx, query.Table)
		defer cleanup()
		wake = stream
	}
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		records, err := h.changes.Next(ctx, query)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("change stream read failed", zap.Int64("after_id", query.AfterID), zap.Error(err))
			}
			return false
		}
		for _, record := range records {
			c.Render(-1, sse.Event{
				Event: changeEventName,
				Id:    strconv.FormatInt(record.ID, 10),
				Data:  record,
			})
			query.AfterID = record.ID
		}
		if len(records) == query.Limit {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-wake:
		case <-heartbeat.C:
			c.Render(-1, sse.Event{Event: heartbeatEventName, Data: gin.H{"after": query.AfterID}})
		}
		return true
	})
}
