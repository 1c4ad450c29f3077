package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"spendly/internal/config"
	"spendly/internal/core"
	ports "spendly/internal/sheets"
)

// Client mirrors expense rows into one sheet of a spreadsheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	// sheetID is the numeric id of sheetName, resolved on first delete.
	mu      sync.Mutex
	sheetID *int64
}

// Ensure interface conformance
var _ ports.ExpenseMirror = (*Client)(nil)

// Credentials holds the OAuth client and the token produced by
// spendly-oauth-init.
type Credentials struct {
	ClientJSON []byte
	TokenJSON  []byte
}

// CredentialsFromConfig reads the OAuth material, preferring inline JSON
// over files.
func CredentialsFromConfig(cfg *config.Config) (Credentials, error) {
	var creds Credentials
	var err error

	switch {
	case strings.TrimSpace(cfg.GoogleOAuthClientJSON) != "":
		creds.ClientJSON = []byte(cfg.GoogleOAuthClientJSON)
	case cfg.GoogleOAuthClientFile != "":
		creds.ClientJSON, err = os.ReadFile(cfg.GoogleOAuthClientFile)
		if err != nil {
			return Credentials{}, fmt.Errorf("read oauth client file: %w", err)
		}
	}

	switch {
	case strings.TrimSpace(cfg.GoogleOAuthTokenJSON) != "":
		creds.TokenJSON = []byte(cfg.GoogleOAuthTokenJSON)
	case cfg.GoogleOAuthTokenFile != "":
		creds.TokenJSON, err = os.ReadFile(cfg.GoogleOAuthTokenFile)
		if err != nil {
			return Credentials{}, fmt.Errorf("read oauth token file: %w", err)
		}
	}
	return creds, nil
}

// NewFromConfig creates a Sheets client for the configured spreadsheet.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.GoogleSpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheetName := strings.TrimSpace(cfg.GoogleSheetName)
	if sheetName == "" {
		sheetName = "Expenses"
	}

	creds, err := CredentialsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := newSheetsService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, spreadsheetID, sheetName), nil
}

// New wraps an existing service.
func New(svc *gsheet.Service, spreadsheetID, sheetName string) *Client {
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}
}

// newSheetsService initializes a Sheets Service from an installed-app OAuth
// client and a stored token. The token is refreshed transparently.
func newSheetsService(ctx context.Context, creds Credentials) (*gsheet.Service, error) {
	if len(creds.ClientJSON) == 0 {
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	if len(creds.TokenJSON) == 0 {
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}

	oc, err := goauth.ConfigFromJSON(creds.ClientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(creds.TokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}

	// The pooled client carries the token source's requests as well.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	httpClient := oauth2.NewClient(ctx, oc.TokenSource(ctx, &tok))

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "scope", gsheet.SpreadsheetsScope)
	return svc, nil
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// Append implements ports.ExpenseMirror.
func (c *Client) Append(ctx context.Context, e core.ExpenseRecord) (string, error) {
	if e.ID == "" {
		return "", errors.New("append: missing id")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	row := make([]any, 0, len(ports.Header))
	for _, v := range ports.Row(e) {
		row = append(row, v)
	}
	rng := fmt.Sprintf("%s!A:F", c.sheetName)
	vr := &gsheet.ValueRange{Values: [][]any{row}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheetName, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// Delete implements ports.ExpenseMirror.
func (c *Client) Delete(ctx context.Context, id core.RecordID) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	ids, err := c.readCol(ctx, "A:A")
	if err != nil {
		return err
	}
	idx := rowIndex(ids, id.String())
	if idx < 0 {
		slog.InfoContext(ctx, "Row not present in sheet, nothing to delete", "id", id, "sheet", c.sheetName)
		return nil
	}

	sheetID, err := c.resolveSheetID(ctx)
	if err != nil {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{deleteRowRequest(sheetID, int64(idx))},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d in sheet %s: %w", idx+1, c.sheetName, err)
	}
	return nil
}

func (c *Client) readCol(ctx context.Context, col string) ([]string, error) {
	rng := fmt.Sprintf("%s!%s", c.sheetName, col)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			out = append(out, "")
			continue
		}
		out = append(out, strings.TrimSpace(fmt.Sprint(row[0])))
	}
	return out, nil
}

func (c *Client) resolveSheetID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sheetID != nil {
		return *c.sheetID, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}
	id, ok := sheetIDByTitle(ss.Sheets, c.sheetName)
	if !ok {
		return 0, fmt.Errorf("sheet %q not found", c.sheetName)
	}
	c.sheetID = &id
	return id, nil
}

// rowIndex returns the zero-based row holding id in column A, or -1.
func rowIndex(col []string, id string) int {
	for i, v := range col {
		if v == id {
			return i
		}
	}
	return -1
}

func sheetIDByTitle(sheets []*gsheet.Sheet, title string) (int64, bool) {
	for _, s := range sheets {
		if s == nil || s.Properties == nil {
			continue
		}
		if strings.EqualFold(s.Properties.Title, title) {
			return s.Properties.SheetId, true
		}
	}
	return 0, false
}

func deleteRowRequest(sheetID, row int64) *gsheet.Request {
	return &gsheet.Request{
		DeleteDimension: &gsheet.DeleteDimensionRequest{
			Range: &gsheet.DimensionRange{
				SheetId:    sheetID,
				Dimension:  "ROWS",
				StartIndex: row,
				EndIndex:   row + 1,
				// The first sheet and the first row are both index zero.
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
		},
	}
}
