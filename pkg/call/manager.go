package call

import (
	"context"
	"log/slog"
	"sync"
)

// Manager владеет множеством экземпляров Call: создает вызовы для
// входящих приглашений и локального набора, отдает их по идентификатору
// и убирает из реестра после остановки.
type Manager struct {
	cfg *Config

	calls map[string]*Call
	// activeID - вызов, владеющий точками воспроизведения; политика
	// одного активного вызова
	activeID string

	logger *slog.Logger

	mu sync.RWMutex
}

// NewManager создает менеджер вызовов.
func NewManager(cfg *Config) *Manager {
	cfg = cfg.normalized()
	return &Manager{
		cfg:    cfg,
		calls:  make(map[string]*Call),
		logger: cfg.Logger,
	}
}

// OnIncomingSession маршрутизирует входящее приглашение в новый
// экземпляр Call. Установка (Start) остается за приложением, которое
// решает, показывать ли вызов пользователю.
func (m *Manager) OnIncomingSession(session Session, opts Options) *Call {
	c := NewIncoming(m.cfg, m, session, opts)

	m.mu.Lock()
	m.calls[c.ID()] = c
	m.mu.Unlock()

	m.logger.Info("входящий вызов зарегистрирован",
		slog.String("id", c.ID()),
		slog.String("callID", session.CallID()))
	return c
}

// NewOutgoingCall создает исходящий вызов в статусе new и регистрирует
// его. Номер набирается последующим Start.
func (m *Manager) NewOutgoingCall(number string, opts Options) *Call {
	c := NewOutgoing(m.cfg, m, number, opts)

	m.mu.Lock()
	m.calls[c.ID()] = c
	if opts.Active {
		m.activeID = c.ID()
	}
	m.mu.Unlock()

	m.logger.Info("исходящий вызов зарегистрирован",
		slog.String("id", c.ID()),
		slog.String("number", number))
	return c
}

// Get возвращает вызов по идентификатору экземпляра.
func (m *Manager) Get(id string) (*Call, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	return c, ok
}

// Calls возвращает снимок зарегистрированных вызовов.
func (m *Manager) Calls() []*Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	return out
}

// Count возвращает количество зарегистрированных вызовов.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// SetActive назначает вызов, владеющий точками воспроизведения.
// Одновременно точками владеет не более одного вызова.
func (m *Manager) SetActive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[id]; ok {
		m.activeID = id
	}
}

// Active возвращает активный вызов, если он есть.
func (m *Manager) Active() (*Call, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[m.activeID]
	return c, ok
}

// DeleteCall убирает вызов из реестра. Вызывается самим вызовом при
// остановке (граница Registry) и менеджером для вырожденного случая
// "не покинул new".
func (m *Manager) DeleteCall(c *Call) {
	m.mu.Lock()
	_, existed := m.calls[c.ID()]
	delete(m.calls, c.ID())
	if m.activeID == c.ID() {
		m.activeID = ""
	}
	m.mu.Unlock()

	if !existed {
		return
	}
	m.cfg.Metrics.CallRemoved(c.CreatedAt())
	m.logger.Debug("вызов удален из реестра", slog.String("id", c.ID()))
}

// TerminateAll завершает все зарегистрированные вызовы; используется
// при остановке приложения.
func (m *Manager) TerminateAll(ctx context.Context) {
	for _, c := range m.Calls() {
		c.Terminate(ctx)
	}
}
