package sheets

import (
	"context"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerWriter appends one ledger entry as a spreadsheet row.
	LedgerWriter interface {
		AppendEntry(ctx context.Context, e core.LedgerEntry) (rowRef string, err error)
	}

	// LedgerDeleter removes the row mirroring entryID. Deleting an entry that
	// was never mirrored is not an error.
	LedgerDeleter interface {
		DeleteEntry(ctx context.Context, entryID int64) error
	}

	Mirror interface {
		LedgerWriter
		LedgerDeleter
	}
)
