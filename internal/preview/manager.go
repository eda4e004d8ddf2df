package preview

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager serializes ownership of the preview port: at any moment exactly
// one server configuration is live. Strategy comparison swaps configurations
// between groups; a swap must fully tear down the previous listener before
// the next one binds, otherwise a capture could hit the stale configuration.
type Manager struct {
	port int
	log  *zap.Logger

	mu      sync.Mutex
	current *Server
}

// NewManager manages the given port.
func NewManager(port int, log *zap.Logger) *Manager {
	return &Manager{port: port, log: log}
}

// Current returns the live server, if any.
func (m *Manager) Current() *Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RenderURL resolves a page address against the live server. Empty when no
// server is running.
func (m *Manager) RenderURL(siteKey, page string) string {
	srv := m.Current()
	if srv == nil {
		return ""
	}
	return srv.RenderURL(siteKey, page)
}

// Swap shuts down the live server, waits for the port to actually free, and
// starts a new server with the given source.
func (m *Manager) Swap(ctx context.Context, source PayloadSource) (*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := m.current.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("shut down previous preview server: %w", err)
		}
		m.current = nil
		if err := m.waitPortFree(ctx); err != nil {
			return nil, err
		}
	}

	next := NewServer(m.port, source, m.log)
	if err := next.Start(); err != nil {
		return nil, err
	}
	m.current = next
	return next, nil
}

// Close shuts down the live server.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	err := m.current.Shutdown(ctx)
	m.current = nil
	return err
}

// waitPortFree dials until the connection is refused.
func (m *Manager) waitPortFree(ctx context.Context) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(m.port))
	deadline := time.Now().Add(10 * time.Second)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err != nil {
			return nil
		}
		_ = conn.Close()
		if time.Now().After(deadline) {
			return fmt.Errorf("preview port %d still occupied", m.port)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
