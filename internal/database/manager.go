package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"classrelay/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS classroom_archives (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	classroom_name TEXT NOT NULL,
	archived_at    TIMESTAMP NOT NULL,
	paired_chats   TEXT NOT NULL,
	solo_chats     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archives_classroom ON classroom_archives(classroom_name);
`

// Manager persists classroom transcript archives to SQLite. All writes
// funnel through a single goroutine to avoid SQLite write contention;
// reads go straight to the pool.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	logger       *zap.Logger
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the archive database and starts the write loop.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	manager := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		logger:       logger,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine.
// Failed writes are retried exactly once after a delay.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying in 5 seconds", zap.Error(err))
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// SaveClassroomArchive stores the full transcript set of a torn-down
// classroom as one row. Chats are serialized to JSON.
func (m *Manager) SaveClassroomArchive(ctx context.Context, classroomName string, chats []*types.PairedChat, soloChats []*types.SoloChat) error {
	return m.executeWrite(func(db *sql.DB) error {
		pairedJSON, err := json.Marshal(chats)
		if err != nil {
			return fmt.Errorf("failed to marshal paired chats: %w", err)
		}
		soloJSON, err := json.Marshal(soloChats)
		if err != nil {
			return fmt.Errorf("failed to marshal solo chats: %w", err)
		}

		query := `
			INSERT INTO classroom_archives (classroom_name, archived_at, paired_chats, solo_chats)
			VALUES (?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			classroomName,
			time.Now().UTC(),
			string(pairedJSON),
			string(soloJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert classroom archive: %w", err)
		}

		return nil
	})
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM classroom_archives LIMIT 1")
	if err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return rows.Err()
}

// Close shuts down the write loop and the connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
