package server

import (
	"net/http"

	"txsim-server/packages/common"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StreamLogs replays the test case's log lines as server-sent events, one
// `data:` frame per line and a final completion frame. The stream is torn
// down when the client goes away.
func (h *Handler) StreamLogs(c *gin.Context) {
	id, err := common.ParseID(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	st, err := h.sim.Open(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer st.Cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Methods", "GET")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	log := h.log.With(zap.Int("test_id", id))
	log.Info("Log stream client connected")

	for ev := range st.Events() {
		payload, err := common.Marshal(ev.Payload())
		if err != nil {
			log.Error("Failed to encode log event", zap.Error(err))
			return
		}
		if err := sse.Encode(c.Writer, sse.Event{Data: string(payload)}); err != nil {
			log.Warn("Log stream client went away",
				zap.Error(errors.WithMessage(common.ErrStream, err.Error())),
			)
			return
		}
		c.Writer.Flush()
	}

	if err := st.Err(); err != nil {
		log.Info("Log stream closed early", zap.Error(err))
		return
	}
	log.Info("Log stream finished")
}
