// Package viewer pushes reconstructed agent state to renderers over
// WebSocket.
package viewer

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks open viewer connections per agent.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the connection connID of agentID.
func (m *ConnManager) Get(agentID, connID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conns, ok := m.active[agentID]; ok {
		return conns[connID]
	}
	return nil
}

// Register adds a viewer connection for an agent.
func (m *ConnManager) Register(agentID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[agentID]; !exists {
		m.active[agentID] = make(map[string]*websocket.Conn)
	}
	m.active[agentID][connID] = conn
	slog.Info("Viewer registered", "agent_id", agentID, "conn_id", connID)
}

// Unregister removes a viewer connection. Stale connections are ignored.
func (m *ConnManager) Unregister(agentID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[agentID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, agentID)
			}
			slog.Info("Viewer unregistered", "agent_id", agentID, "conn_id", connID)
		}
	}
}

// Count returns the number of viewers of an agent.
func (m *ConnManager) Count(agentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[agentID])
}

// CloseAgent terminates every viewer of an agent.
func (m *ConnManager) CloseAgent(agentID string) {
	m.mu.Lock()
	conns := m.active[agentID]
	delete(m.active, agentID)
	m.mu.Unlock()

	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "agent detached")
		slog.Info("Viewer closed", "agent_id", agentID, "conn_id", id)
	}
}
