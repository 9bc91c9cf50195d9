package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	ports "github.com/alanaraujo-bit/meu-bolso-sub002/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const (
	defaultSheetName      = "Lancamentos"
	defaultCacheValidity  = 2 * time.Minute
	lastColumn            = "H"
	valueInputUserEntered = "USER_ENTERED"
)

// Options configures a Client. Exactly one of CredentialsJSON and
// CredentialsFile is needed.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// Client mirrors ledger entries into one sheet, one row per entry:
// ID | Date | Kind | Description | Amount | Origin | Rule | User.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	entriesSheet  string

	// Row count cache avoids a read before every append.
	mu                 sync.Mutex
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
	sheetID            *int64
}

// Ensure interface conformance
var (
	_ ports.LedgerWriter  = (*Client)(nil)
	_ ports.LedgerDeleter = (*Client)(nil)
)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheet := strings.TrimSpace(opts.SheetName)
	if sheet == "" {
		sheet = defaultSheetName
	}

	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:                svc,
		spreadsheetID:      strings.TrimSpace(opts.SpreadsheetID),
		entriesSheet:       sheet,
		cacheValidDuration: defaultCacheValidity,
	}, nil
}

// credentialsJSON resolves service account credentials from the options,
// falling back to GOOGLE_APPLICATION_CREDENTIALS.
func credentialsJSON(ctx context.Context, opts Options) ([]byte, error) {
	inline := strings.TrimSpace(opts.CredentialsJSON)
	file := strings.TrimSpace(opts.CredentialsFile)

	// Also check the standard Google Cloud environment variable
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
		slog.InfoContext(ctx, "Checking GOOGLE_APPLICATION_CREDENTIALS", log.FieldComponent, log.ComponentSheets, "path", file)
	}

	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	creds, err := credentialsJSON(ctx, opts)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		log.FieldComponent, log.ComponentSheets,
		"credentials_size", len(creds),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newHTTPClientWithPooling creates an HTTP client optimized for Google Sheets API
// with connection pooling, proper timeouts, and keep-alive settings
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second, // TCP connection timeout
		KeepAlive: 30 * time.Second, // Keep-alive probe interval
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		// Connection pooling settings
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second, // Overall request timeout
	}
}

// entryRow renders the sheet columns for e.
func entryRow(e core.LedgerEntry) []any {
	rule := ""
	if e.RuleID != nil {
		rule = strconv.FormatInt(*e.RuleID, 10)
	}
	return []any{
		strconv.FormatInt(e.ID, 10),
		e.Date.String(),
		string(e.Kind),
		e.Description,
		e.Amount.StringFixed(core.AmountPlaces),
		string(e.Origin),
		rule,
		strconv.FormatInt(e.UserID, 10),
	}
}

// findRow returns the 1-based row whose first cell holds id, or 0.
func findRow(values [][]any, id int64) int {
	want := strconv.FormatInt(id, 10)
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == want {
			return i + 1
		}
	}
	return 0
}

// InvalidateRowCache forces the next append to re-read the sheet size.
func (c *Client) InvalidateRowCache() {
	c.mu.Lock()
	c.cacheExpiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) readIDColumn(ctx context.Context) ([][]any, error) {
	rng := fmt.Sprintf("%s!A:A", c.entriesSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// nextRow reserves the next empty row, refreshing the cached count when it
// expired.
func (c *Client) nextRow(ctx context.Context) (int, error) {
	c.mu.Lock()
	valid := time.Now().Before(c.cacheExpiresAt)
	c.mu.Unlock()

	if !valid {
		values, err := c.readIDColumn(ctx)
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.cachedRowCount = len(values)
		c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedRowCount++
	return c.cachedRowCount, nil
}

func (c *Client) AppendEntry(ctx context.Context, e core.LedgerEntry) (string, error) {
	if e.ID <= 0 {
		return "", errors.New("validation failed: missing entry id")
	}
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	row, err := c.nextRow(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get sheet dimensions for %s: %w", c.entriesSheet, err)
	}

	ref := fmt.Sprintf("%s!A%d:%s%d", c.entriesSheet, row, lastColumn, row)
	vr := &gsheet.ValueRange{Values: [][]any{entryRow(e)}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, ref, vr).
		ValueInputOption(valueInputUserEntered).Context(ctx).Do()
	if err != nil {
		c.InvalidateRowCache()
		return "", fmt.Errorf("failed to update %s: %w", ref, err)
	}

	slog.InfoContext(ctx, "Entry appended to sheet",
		log.FieldComponent, log.ComponentSheets,
		log.FieldEntryID, e.ID,
		log.FieldSheetsRef, ref)
	return ref, nil
}

func (c *Client) lookupSheetID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	cached := c.sheetID
	c.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet properties: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == c.entriesSheet {
			id := sh.Properties.SheetId
			c.mu.Lock()
			c.sheetID = &id
			c.mu.Unlock()
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", c.entriesSheet)
}

// DeleteEntry removes the row whose ID column matches entryID.
func (c *Client) DeleteEntry(ctx context.Context, entryID int64) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	values, err := c.readIDColumn(ctx)
	if err != nil {
		return err
	}
	row := findRow(values, entryID)
	if row == 0 {
		slog.InfoContext(ctx, "Entry not present in sheet, nothing to delete",
			log.FieldComponent, log.ComponentSheets, log.FieldEntryID, entryID)
		return nil
	}

	sheetID, err := c.lookupSheetID(ctx)
	if err != nil {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d in %s: %w", row, c.entriesSheet, err)
	}
	c.InvalidateRowCache()

	slog.InfoContext(ctx, "Entry removed from sheet",
		log.FieldComponent, log.ComponentSheets,
		log.FieldEntryID, entryID,
		"row", row)
	return nil
}
