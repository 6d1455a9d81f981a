package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/bakery/internal/fanout"
)

const orderEvent = "order"

func (h *Handler) streamOrder(c *gin.Context) {
	sub, err := h.deps.Orders.SubscribeOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.stream(c, sub)
}

func (h *Handler) streamBranch(c *gin.Context) {
	sub, err := h.deps.Orders.SubscribeBranch(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.stream(c, sub)
}

func (h *Handler) streamCustomer(c *gin.Context) {
	sub, err := h.deps.Orders.SubscribeCustomer(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.stream(c, sub)
}

func (h *Handler) streamAll(c *gin.Context) {
	sub, err := h.deps.Orders.SubscribeAll(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.stream(c, sub)
}

// stream пишет снимки как SSE-события `order` до отключения клиента.
func (h *Handler) stream(c *gin.Context, sub *fanout.Subscription) {
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	scope := sub.Scope()
	logger := h.logger.WithField("scope", scope.Kind).WithField("id", scope.ID)
	logger.Debug("sse stream started")
	defer logger.Debug("sse stream finished")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case order, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(orderEvent, newOrderResponse(order))
			return true
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		}
	})
}
