// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Corphon/Lumina/internal/services"
)

// WebSocketHandler 处理会话 WebSocket 连接
type WebSocketHandler struct {
	sessions *services.SessionService
	manager  *WebSocketManager
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(sessions *services.SessionService, manager *WebSocketManager) *WebSocketHandler {
	return &WebSocketHandler{sessions: sessions, manager: manager}
}

// SessionWebSocket 订阅会话事件：state / progress / scene / ready / complete / error
func (wh *WebSocketHandler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	view, err := wh.sessions.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 会话 WebSocket 升级失败: %v", err)
		return
	}

	client := NewWebSocketClient(conn, sessionID, c.DefaultQuery("client_id", uuid.NewString()))
	if !wh.manager.Register(client) {
		log.Printf("❌ 无法注册 WebSocket 客户端，注册通道已满")
		conn.Close()
		return
	}

	go wh.handleWebSocketWrites(client)

	client.SendMessage(map[string]interface{}{
		"type":       "connected",
		"session_id": sessionID,
		"client_id":  client.clientID,
		"session":    view,
		"timestamp":  time.Now().Format(time.RFC3339),
	})

	// 读循环阻塞直到连接关闭
	wh.handleWebSocketReads(client)
	wh.manager.Unregister(client)
}

// handleWebSocketReads 处理客户端发来的指令
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for !client.IsClosed() {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		client.UpdatePing()

		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			client.SendError("invalid message")
			continue
		}
		wh.handleMessage(client, message)
	}
}

// handleWebSocketWrites 发送队列中的消息并定期 ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(time.Second))
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.send:
			if client.IsClosed() {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket 写入失败: %v", err)
				return
			}

		case <-ticker.C:
			if client.IsClosed() {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理收到的消息
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, message map[string]interface{}) {
	msgType, _ := message["type"].(string)

	switch msgType {
	case "generate":
		topic, _ := message["topic"].(string)
		if _, err := wh.sessions.StartGeneration(context.Background(), client.sessionID, topic); err != nil {
			client.SendError(err.Error())
		}
	case "reset":
		if _, err := wh.sessions.Reset(client.sessionID); err != nil {
			client.SendError(err.Error())
		}
	case "snapshot":
		view, err := wh.sessions.GetSession(client.sessionID)
		if err != nil {
			client.SendError(err.Error())
			return
		}
		client.SendMessage(map[string]interface{}{"type": "snapshot", "session": view})
	case "ping":
		client.SendMessage(map[string]interface{}{"type": "pong", "timestamp": time.Now().Unix()})
	default:
		client.SendError("unknown message type: " + msgType)
	}
}
