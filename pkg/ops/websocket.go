package ops

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/armorclaw/agentcore/pkg/eventbus"
)

const (
	agentReadLimit = 64 * 1024
	agentPongWait  = 60 * time.Second
	agentPingEvery = agentPongWait * 9 / 10
)

// handleAgentSocket registers the connecting agent as the direct notification
// endpoint for :destination until the socket closes
func (s *Server) handleAgentSocket(c *gin.Context) {
	destination := c.Param("destination")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("agent websocket upgrade failed", "destination", destination, "error", err)
		return
	}

	ep := eventbus.NewWebSocketEndpoint(conn, 0)
	if err := s.deps.Bus.RegisterEndpoint(destination, ep); err != nil {
		s.log.Warn("agent endpoint rejected", "destination", destination, "error", err)
		_ = ep.Close()
		return
	}
	s.log.Info("agent connected", "destination", destination, "remote", c.Request.RemoteAddr)

	done := make(chan struct{})
	go s.pingAgent(conn, done)

	s.readAgent(conn)
	close(done)

	s.deps.Bus.Notifier().Release(destination, ep)
	s.log.Info("agent disconnected", "destination", destination)
}

// readAgent drains inbound frames until the agent goes away. Agents only
// receive on this socket; inbound frames keep the connection alive.
func (s *Server) readAgent(conn *websocket.Conn) {
	conn.SetReadLimit(agentReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(agentPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(agentPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(agentPongWait))
	}
}

func (s *Server) pingAgent(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(agentPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
