package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"li-gateway/internal/common/logging"
)

// GoBreakerManager keeps one breaker per host
type GoBreakerManager struct {
	config   Config
	breakers map[string]*GoBreakerAdapter
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewGoBreakerManager creates a manager whose breakers all use config
func NewGoBreakerManager(config Config, logger logging.Logger) *GoBreakerManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &GoBreakerManager{
		config:   config,
		breakers: make(map[string]*GoBreakerAdapter),
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "circuit_breaker"}),
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *GoBreakerManager) GetOrCreate(name string) *GoBreakerAdapter {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker = NewGoBreaker(name, m.config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// Get retrieves an existing circuit breaker by name
func (m *GoBreakerManager) Get(name string) (*GoBreakerAdapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, exists := m.breakers[name]
	return breaker, exists
}

// Execute executes a function with circuit breaker protection
func (m *GoBreakerManager) Execute(ctx context.Context, name string, fn func() error) error {
	return m.GetOrCreate(name).Execute(ctx, fn)
}

// AllStats returns statistics for all circuit breakers, sorted by name
func (m *GoBreakerManager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	return stats
}

// Reset closes the breaker of name. It reports false if no breaker exists.
func (m *GoBreakerManager) Reset(name string) bool {
	breaker, exists := m.Get(name)
	if !exists {
		return false
	}

	breaker.Reset()
	m.logger.Info("Circuit breaker reset", logging.Field{Key: "breaker", Value: name})
	return true
}

// IsOpen checks if a circuit breaker is in open state
func (m *GoBreakerManager) IsOpen(name string) bool {
	if breaker, exists := m.Get(name); exists {
		return breaker.IsOpen()
	}
	return false
}
