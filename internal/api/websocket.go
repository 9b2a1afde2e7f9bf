// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个订阅会话事件的客户端连接
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	clientID  string
	send      chan []byte
	done      chan struct{}
	closed    int32 // 0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time
}

// NewWebSocketClient 创建客户端
func NewWebSocketClient(conn WebSocketConnection, sessionID, clientID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		clientID:  clientID,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接，写协程通过 done 退出
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// SendMessage 把消息放入发送队列，队列满时丢弃
func (client *WebSocketClient) SendMessage(message map[string]interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.send <- msgBytes:
	default:
		log.Printf("⚠️ 客户端 %s 消息队列已满，消息被丢弃", client.clientID)
	}
	return nil
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(errorMsg string) {
	client.SendMessage(map[string]interface{}{
		"type":      "error",
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// WebSocketManager 按会话ID管理所有 WebSocket 连接
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]bool // sessionID -> clients
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	quit        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	pingTimeout time.Duration
}

// NewWebSocketManager 创建并启动管理器
func NewWebSocketManager() *WebSocketManager {
	manager := &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]bool),
		register:    make(chan *WebSocketClient, 256),
		unregister:  make(chan *WebSocketClient, 256),
		quit:        make(chan struct{}),
		pingTimeout: 60 * time.Second,
	}
	go manager.run()
	return manager
}

// run 管理器主循环
func (manager *WebSocketManager) run() {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.quit:
			manager.shutdown()
			return
		}
	}
}

// Register 注册客户端，队列满时返回 false
func (manager *WebSocketManager) Register(client *WebSocketClient) bool {
	select {
	case manager.register <- client:
		return true
	default:
		return false
	}
}

// Unregister 注销客户端，超时放弃
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	select {
	case manager.unregister <- client:
	case <-time.After(5 * time.Second):
		log.Printf("⚠️ WebSocket 客户端注销超时")
	}
}

func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]bool)
	}
	manager.connections[client.sessionID][client] = true
	client.UpdatePing()

	log.Printf("✅ WebSocket 客户端已连接到会话 %s (%s)", client.sessionID, client.clientID)
}

func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	if clients, exists := manager.connections[client.sessionID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	log.Printf("🔌 WebSocket 客户端已断开连接 (会话: %s)", client.sessionID)
}

// cleanupExpiredConnections 清理过期和已关闭的连接
func (manager *WebSocketManager) cleanupExpiredConnections() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	removed := 0
	for sessionID, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(clients, client)
				client.Close()
				removed++
			}
		}
		if len(clients) == 0 {
			delete(manager.connections, sessionID)
		}
	}
	return removed
}

// BroadcastToSession 向订阅指定会话的客户端广播消息
func (manager *WebSocketManager) BroadcastToSession(sessionID string, message map[string]interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ 序列化广播消息失败: %v", err)
		return
	}

	manager.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(manager.connections[sessionID]))
	for client := range manager.connections[sessionID] {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	manager.mutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- msgBytes:
		default:
			// 消费过慢的客户端直接断开
			client.Close()
			go manager.Unregister(client)
		}
	}
}

// ClientCount 指定会话的连接数
func (manager *WebSocketManager) ClientCount(sessionID string) int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.connections[sessionID])
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]interface{})
	total := 0
	for sessionID, clients := range manager.connections {
		active := 0
		for client := range clients {
			if !client.IsClosed() {
				active++
			}
		}
		sessions[sessionID] = map[string]interface{}{"client_count": active}
		total += active
	}

	return map[string]interface{}{
		"total_sessions":       len(manager.connections),
		"total_connections":    total,
		"sessions":             sessions,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}

// Shutdown 关闭管理器和所有连接
func (manager *WebSocketManager) Shutdown() {
	manager.stopOnce.Do(func() { close(manager.quit) })
}

func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	log.Println("🛑 正在关闭 WebSocket 管理器...")
	for _, clients := range manager.connections {
		for client := range clients {
			client.Close()
		}
	}
	manager.connections = make(map[string]map[*WebSocketClient]bool)
	log.Println("✅ WebSocket 管理器已关闭")
}
