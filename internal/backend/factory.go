package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/amqp"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/storage"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
	// dial is replaced in tests.
	dial func(url, exchange, queue string) (*amqp.Client, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
		dial:   amqp.NewClient,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var store Store
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		store = repo
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MemoryBackend:
		store = memory.New()
		f.logger.InfoContext(ctx, "Initialized in-memory backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	result := &BackendResult{Store: store, Cleanup: store.Close}

	client := f.connectAMQP(ctx, config)
	if client != nil {
		result.Publisher = client
		result.Cleanup = func() error {
			return errors.Join(client.Close(), store.Close())
		}
	}
	return result, nil
}

// connectAMQP opens the change feed. A broker that cannot be reached leaves
// the backend running without a publisher.
func (f *DefaultFactory) connectAMQP(ctx context.Context, config Config) *amqp.Client {
	if config.AMQPURL == "" {
		f.logger.InfoContext(ctx, "AMQP disabled, entries will not be mirrored")
		return nil
	}
	client, err := f.dial(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without sync",
			log.FieldError, err)
		return nil
	}
	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client
}
