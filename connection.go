package shelf

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ConnState is the lifecycle state of a database connection.
type ConnState int

const (
	StateClosed ConnState = iota
	StateOpening
	StateUpgradeNeeded
	StateUpgrading
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateUpgradeNeeded:
		return "upgrade-needed"
	case StateUpgrading:
		return "upgrading"
	case StateOpen:
		return "open"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// UpgradeFunc runs inside the upgrade transaction after declared buckets
// were created. created lists, per store, the indexes whose buckets did not
// exist before.
type UpgradeFunc func(ctx context.Context, tx Tx, from, to int, created map[string][]IndexSchema) error

// ConnectionManager opens the substrate with retries and brings the stored
// schema up to the configured version.
type ConnectionManager struct {
	substrate Substrate
	registry  *Registry
	cfg       Config
	clock     Clock
	logger    Logger
	metrics   Metrics
	onUpgrade UpgradeFunc

	mu    sync.RWMutex
	state ConnState
	conn  Conn
}

// NewConnectionManager creates a manager in the closed state.
func NewConnectionManager(substrate Substrate, registry *Registry, cfg Config, clock Clock, logger Logger, metrics Metrics) *ConnectionManager {
	return &ConnectionManager{
		substrate: substrate,
		registry:  registry,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		state:     StateClosed,
	}
}

// OnUpgrade sets the hook run during schema upgrades.
func (m *ConnectionManager) OnUpgrade(fn UpgradeFunc) {
	m.onUpgrade = fn
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// setState must be called with mu held.
func (m *ConnectionManager) setState(s ConnState) {
	if m.state == s {
		return
	}
	m.logger.Debug("connection state transition",
		"db", m.cfg.DBName,
		"from", m.state.String(),
		"to", s.String())
	m.state = s
}

// Conn returns the open connection or ErrNotInitialized.
func (m *ConnectionManager) Conn() (Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateOpen || m.conn == nil {
		return nil, WithContext(ErrNotInitialized, map[string]interface{}{
			"db":    m.cfg.DBName,
			"state": m.state.String(),
		})
	}
	return m.conn, nil
}

// Open opens the database, retrying failed attempts up to MaxRetries times
// with a linear backoff. A stored schema version newer than the configured
// one fails immediately with ErrSchema, and a failed record migration with
// ErrMigration.
func (m *ConnectionManager) Open(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateOpen {
		return m.conn, nil
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.cfg.Backoff(attempt)
			m.logger.Warn("retrying database open",
				"db", m.cfg.DBName,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
			m.metrics.Increment(MetricConnectRetry)

			if err := m.clock.Sleep(ctx, delay); err != nil {
				m.setState(StateClosed)
				return nil, WithContext(fmt.Errorf("%w: %w", ErrConnection, err), map[string]interface{}{
					"db":       m.cfg.DBName,
					"attempts": attempt,
				})
			}
		}

		m.metrics.Increment(MetricConnectAttempt)
		conn, err := m.openOnce(ctx)
		if err == nil {
			m.conn = conn
			m.setState(StateOpen)
			return conn, nil
		}

		m.setState(StateClosed)
		if errors.Is(err, ErrSchema) || errors.Is(err, ErrMigration) {
			return nil, err
		}
		lastErr = err
	}

	m.metrics.Increment(MetricConnectFailure)
	return nil, WithContext(fmt.Errorf("%w: %w", ErrConnection, lastErr), map[string]interface{}{
		"db":       m.cfg.DBName,
		"attempts": m.cfg.MaxRetries + 1,
	})
}

func (m *ConnectionManager) openOnce(ctx context.Context) (Conn, error) {
	m.setState(StateOpening)

	conn, err := m.substrate.Open(ctx, m.cfg.DBName)
	if err != nil {
		return nil, err
	}

	stored, err := conn.Version(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}

	target := m.cfg.SchemaVersion
	switch {
	case stored > target:
		conn.Close()
		return nil, WithContext(ErrSchema, map[string]interface{}{
			"db":              m.cfg.DBName,
			"storedVersion":   stored,
			"declaredVersion": target,
			"reason":          "stored schema is newer than declared",
		})
	case stored < target:
		m.setState(StateUpgradeNeeded)
	default:
		missing, err := m.missingBuckets(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if !missing {
			return conn, nil
		}
		m.logger.Warn("declared stores missing at current version, creating them",
			"db", m.cfg.DBName,
			"version", stored)
	}

	m.setState(StateUpgrading)
	err = conn.Upgrade(ctx, target, func(tx Tx) error {
		created, err := m.registry.createBuckets(tx)
		if err != nil {
			return err
		}
		if m.onUpgrade != nil {
			return m.onUpgrade(ctx, tx, stored, target, created)
		}
		return nil
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	m.logger.Info("database upgraded",
		"db", m.cfg.DBName,
		"from", stored,
		"to", target)
	m.setState(StateOpening)
	return conn, nil
}

func (m *ConnectionManager) missingBuckets(ctx context.Context, conn Conn) (bool, error) {
	tx, err := conn.Begin(ctx, false)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	for _, name := range m.registry.ListStores() {
		schema, err := m.registry.Lookup(name)
		if err != nil {
			return false, err
		}
		buckets := []string{storeBucket(name)}
		for _, idx := range schema.Indexes {
			buckets = append(buckets, indexBucket(name, idx.Name))
		}
		for _, b := range buckets {
			if _, err := tx.Bucket(b); errors.Is(err, ErrBucketNotFound) {
				return true, nil
			} else if err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// Close closes the connection. Closing a closed manager is a no-op.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		m.setState(StateClosed)
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.setState(StateClosed)
	return err
}
