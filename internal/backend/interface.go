package backend

import (
	"context"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/worker"
)

// Store is what every binary needs from a storage backend: the service
// ports, the sync backlog queries and lifecycle hooks.
type Store interface {
	services.Store
	worker.SyncStore
	Ping(ctx context.Context) error
	Close() error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the opened store, the optional entry publisher and
// a cleanup function releasing both.
type BackendResult struct {
	Store Store
	// Publisher is nil when AMQP is not configured or unreachable.
	Publisher services.EntryPublisher
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Optional change feed for the sync worker
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
