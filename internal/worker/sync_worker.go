package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/amqp"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/cache"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/sheets"
)

const (
	seenMessagesSize = 1024
	seenMessagesTTL  = 30 * time.Minute
	startupBatchMult = 5
)

// SyncStore is the slice of the storage adapters the worker needs.
type SyncStore interface {
	GetEntry(ctx context.Context, id int64) (core.LedgerEntry, error)
	PendingSyncEntries(ctx context.Context, limit int) ([]core.LedgerEntry, error)
	MarkEntrySynced(ctx context.Context, id int64) error
	MarkEntrySyncError(ctx context.Context, id int64, msg string) error
}

// SyncWorker mirrors ledger entries from the database into the spreadsheet.
type SyncWorker struct {
	store     SyncStore
	mirror    sheets.Mirror
	batchSize int
	seen      *cache.LRUCache[struct{}]
}

func NewSyncWorker(store SyncStore, mirror sheets.Mirror, batchSize int) *SyncWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	return &SyncWorker{
		store:     store,
		mirror:    mirror,
		batchSize: batchSize,
		seen:      cache.NewLRUCache[struct{}](seenMessagesSize, seenMessagesTTL),
	}
}

// HandleMessage processes one entry message from AMQP. A returned error
// makes the consumer requeue the message.
func (w *SyncWorker) HandleMessage(ctx context.Context, msg *amqp.EntryMessage) error {
	if msg.MessageID != "" {
		if _, dup := w.seen.Get(msg.MessageID); dup {
			slog.InfoContext(ctx, "Skipping already processed message",
				log.FieldComponent, log.ComponentWorker,
				"message_id", msg.MessageID)
			return nil
		}
	}

	var err error
	switch msg.Type {
	case amqp.EntryCreated:
		err = w.handleCreated(ctx, msg)
	case amqp.EntryDeleted:
		err = w.handleDeleted(ctx, msg)
	default:
		return fmt.Errorf("unsupported message type %q", msg.Type)
	}
	if err != nil {
		return err
	}

	if msg.MessageID != "" {
		w.seen.Set(msg.MessageID, struct{}{})
	}
	return nil
}

func (w *SyncWorker) handleCreated(ctx context.Context, msg *amqp.EntryMessage) error {
	entry, err := w.store.GetEntry(ctx, msg.EntryID)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted before we got to it; the delete message cleans up.
		slog.InfoContext(ctx, "Entry no longer exists, nothing to sync",
			log.FieldComponent, log.ComponentWorker,
			log.FieldEntryID, msg.EntryID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get entry from storage: %w", err)
	}
	return w.syncEntry(ctx, entry)
}

func (w *SyncWorker) handleDeleted(ctx context.Context, msg *amqp.EntryMessage) error {
	if err := w.mirror.DeleteEntry(ctx, msg.EntryID); err != nil {
		slog.ErrorContext(ctx, "Failed to delete entry from sheet",
			log.FieldComponent, log.ComponentWorker,
			log.FieldEntryID, msg.EntryID,
			log.FieldError, err)
		return fmt.Errorf("delete entry from sheet: %w", err)
	}
	slog.InfoContext(ctx, "Entry deleted from sheet",
		log.FieldComponent, log.ComponentWorker,
		log.FieldEntryID, msg.EntryID,
		log.FieldUserID, msg.UserID)
	return nil
}

// ProcessPending syncs one batch of entries that were never mirrored. It
// covers messages lost while the broker or the worker was down.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	_, _, err := w.processBacklog(ctx, w.batchSize)
	return err
}

// StartupSyncCheck runs a larger backlog sweep when the worker starts.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, failed, err := w.processBacklog(ctx, w.batchSize*startupBatchMult)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	slog.InfoContext(ctx, "Startup sync completed",
		log.FieldComponent, log.ComponentWorker,
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *SyncWorker) processBacklog(ctx context.Context, limit int) (synced, failed int, err error) {
	pending, err := w.store.PendingSyncEntries(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending entries: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	slog.InfoContext(ctx, "Processing pending entries", log.FieldComponent, log.ComponentWorker, "count", len(pending))

	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return synced, failed, err
		}
		if err := w.syncEntry(ctx, entry); err != nil {
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

func (w *SyncWorker) syncEntry(ctx context.Context, entry core.LedgerEntry) error {
	ref, err := w.mirror.AppendEntry(ctx, entry)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to sync entry",
			log.FieldComponent, log.ComponentWorker,
			log.FieldEntryID, entry.ID,
			log.FieldError, err)
		if markErr := w.store.MarkEntrySyncError(ctx, entry.ID, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", log.FieldEntryID, entry.ID, log.FieldError, markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	// The row exists now; a failed mark only means a later sweep re-appends.
	if err := w.store.MarkEntrySynced(ctx, entry.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as synced", log.FieldEntryID, entry.ID, log.FieldError, err)
	}

	slog.InfoContext(ctx, "Successfully synced entry",
		log.FieldComponent, log.ComponentWorker,
		log.FieldEntryID, entry.ID,
		log.FieldSheetsRef, ref,
		log.FieldDescription, entry.Description,
		log.FieldAmount, entry.Amount.StringFixed(core.AmountPlaces))
	return nil
}
