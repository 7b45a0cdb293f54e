package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"delta-core/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The REST layer's CORS policy gates browser clients; token auth below
	// gates everyone else.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSubBuffer  = 64
)

type wsFrame struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// strategyStream pushes strategy lifecycle transitions, order outcomes and
// price ticks to the client over a websocket. Browsers cannot set an
// Authorization header on the upgrade request, so the token rides in the
// query string.
func (s *Server) strategyStream(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "MISSING_TOKEN", "error": "token query parameter is required"})
		return
	}
	claims, err := parseToken(token, s.Cfg.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_TOKEN", "error": "invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for %s: %v", claims.ClientID, err)
		return
	}
	defer conn.Close()

	statusCh, unsubStatus := s.Bus.Subscribe(events.EventStrategyStatus, wsSubBuffer)
	defer unsubStatus()
	log.Printf("[ws] client %s connected (%d status listeners)",
		claims.ClientID, s.Bus.SubscriberCount(events.EventStrategyStatus))
	orderCh, unsubOrders := s.Bus.Subscribe(events.EventOrderPlaced, wsSubBuffer)
	defer unsubOrders()
	bracketCh, unsubBrackets := s.Bus.Subscribe(events.EventBracketOutcome, wsSubBuffer)
	defer unsubBrackets()
	tickCh, unsubTicks := s.Bus.Subscribe(events.EventPriceTick, wsSubBuffer)
	defer unsubTicks()

	// Reader goroutine: we never expect client frames, but reading is what
	// surfaces close/error so the writer loop can exit.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var frame wsFrame
		select {
		case <-done:
			log.Printf("[ws] client %s disconnected", claims.ClientID)
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case payload := <-statusCh:
			frame = wsFrame{Topic: string(events.EventStrategyStatus), Data: payload}
		case payload := <-orderCh:
			frame = wsFrame{Topic: string(events.EventOrderPlaced), Data: payload}
		case payload := <-bracketCh:
			frame = wsFrame{Topic: string(events.EventBracketOutcome), Data: payload}
		case payload := <-tickCh:
			frame = wsFrame{Topic: string(events.EventPriceTick), Data: payload}
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("[ws] write to %s failed: %v", claims.ClientID, err)
			return
		}
	}
}
