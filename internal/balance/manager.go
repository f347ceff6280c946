// Package balance keeps a cached copy of the broker account so strategies
// can size positions without broker I/O on the bar path.
package balance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/logger"
)

// AccountSource fetches the broker account.
type AccountSource interface {
	GetAccount(ctx context.Context) (*broker.Account, error)
}

// Snapshot is the last synced account figures.
type Snapshot struct {
	Cash        float64   `json:"cash"`
	Equity      float64   `json:"equity"`
	BuyingPower float64   `json:"buying_power"`
	SyncedAt    time.Time `json:"synced_at"`
}

// Manager caches account equity
type Manager struct {
	source       AccountSource
	syncInterval time.Duration

	mu     sync.RWMutex
	cache  Snapshot
	synced bool

	log *zap.Logger
}

// NewManager creates a new balance manager
func NewManager(source AccountSource, syncInterval time.Duration) *Manager {
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}
	return &Manager{
		source:       source,
		syncInterval: syncInterval,
		log:          logger.Named("balance"),
	}
}

// Start syncs once and then every syncInterval until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		m.log.Warn("initial balance sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					m.log.Error("balance sync failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches the latest account from the broker.
func (m *Manager) Sync(ctx context.Context) error {
	if m.source == nil {
		return nil
	}
	acct, err := m.source.GetAccount(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cache = Snapshot{
		Cash:        acct.Cash,
		Equity:      acct.Equity,
		BuyingPower: acct.BuyingPower,
		SyncedAt:    time.Now().UTC(),
	}
	m.synced = true
	m.mu.Unlock()

	m.log.Debug("balance synced",
		zap.Float64("equity", acct.Equity),
		zap.Float64("cash", acct.Cash),
		zap.Float64("buying_power", acct.BuyingPower),
	)
	return nil
}

// Balance returns account equity, and false until the first successful sync.
func (m *Manager) Balance() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Equity, m.synced
}

// Snapshot returns the cached figures.
func (m *Manager) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache, m.synced
}
