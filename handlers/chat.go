package handlers

import (
	"chat-relay-service/middleware"
	"chat-relay-service/models"
	"chat-relay-service/relay"
	"chat-relay-service/utils"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	relay *relay.Relay
}

func NewChatHandler(r *relay.Relay) *ChatHandler {
	return &ChatHandler{relay: r}
}

// Chat relays a prompt upstream and streams the answer back as SSE.
// Failures before the stream starts are answered with a JSON error body;
// failures after it started end the stream with an error frame.
func (h *ChatHandler) Chat(c *gin.Context) {
	requestID := middleware.GetRequestID(c)

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		verr := relay.InvalidBody(err)
		h.relay.Reject(requestID, verr)
		c.JSON(relay.StatusCode(verr), models.Failure(h.relay.PublicMessage(verr)))
		return
	}

	session, err := h.relay.Open(c.Request.Context(), requestID, req)
	if err != nil {
		if relay.KindOf(err) == relay.KindClientDisconnect {
			c.Abort()
			return
		}
		c.JSON(relay.StatusCode(err), models.Failure(h.relay.PublicMessage(err)))
		return
	}

	// Pipe logs and records the outcome; the response is complete when it returns.
	_ = session.Pipe(c.Request.Context(), utils.NewEventStreamWriter(c.Writer))
}
