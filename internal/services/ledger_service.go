package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// LedgerService handles manual ledger entries and publishes mirror messages
// after every write.
type LedgerService struct {
	ledger    LedgerStore
	publisher EntryPublisher
}

func NewLedgerService(ledger LedgerStore, publisher EntryPublisher) *LedgerService {
	return &LedgerService{ledger: ledger, publisher: publisher}
}

// CreateEntry saves a manual entry locally and publishes a sync message.
func (s *LedgerService) CreateEntry(ctx context.Context, userID int64, e core.LedgerEntry) (core.LedgerEntry, error) {
	e.UserID = userID
	e.Origin = core.OriginManual
	e.RuleID = nil
	e.Description = strings.TrimSpace(e.Description)
	e.Amount = core.RoundAmount(e.Amount)
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}

	id, err := s.ledger.InsertManual(ctx, e)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("save entry: %w", err)
	}
	e.ID = id
	log.NewStructuredLogger(log.FromContext(ctx)).
		LogEntryCreated(ctx, userID, id, e.Description, e.Amount.StringFixed(2), 0)

	if s.publisher != nil {
		if err := s.publisher.PublishEntryCreated(ctx, e); err != nil {
			slog.ErrorContext(ctx, "Failed to publish entry created message",
				log.FieldComponent, log.ComponentLedger,
				log.FieldEntryID, id,
				log.FieldError, err)
			// The entry is saved; the sync worker backlog sweep picks it up.
		}
	}
	return e, nil
}

// DeleteEntry removes an entry of the user. Generated entries may be deleted
// too; the materializer never recreates them.
func (s *LedgerService) DeleteEntry(ctx context.Context, userID, id int64) error {
	e, err := s.ledger.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if e.UserID != userID {
		return fmt.Errorf("entry %d: %w", id, core.ErrNotFound)
	}
	if err := s.ledger.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishEntryDeleted(ctx, userID, id); err != nil {
			slog.ErrorContext(ctx, "Failed to publish entry deleted message",
				log.FieldComponent, log.ComponentLedger,
				log.FieldEntryID, id,
				log.FieldError, err)
		}
	}
	return nil
}

// ListEntries returns the user's entries dated within month.
func (s *LedgerService) ListEntries(ctx context.Context, userID int64, month core.YearMonth) ([]core.LedgerEntry, error) {
	entries, err := s.ledger.ListEntries(ctx, userID, month.Start(), month.End())
	if err != nil {
		return nil, fmt.Errorf("list entries for %s: %w", month, err)
	}
	return entries, nil
}
