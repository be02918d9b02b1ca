// Package sheets is a thin client for the Google Sheets values API,
// used by the report-sync and rollover jobs. Auth is a service-account
// JWT token source.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/telemost/switchboard/internal/config"
)

const (
	apiBase         = "https://sheets.googleapis.com/v4/spreadsheets"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	scope           = "https://www.googleapis.com/auth/spreadsheets"
	requestTimeout  = 30 * time.Second
)

// Client reads and writes value ranges of one spreadsheet.
type Client struct {
	http          *http.Client
	spreadsheetID string
	baseURL       string
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Config  config.SheetsConfig
	BaseURL string       // defaults to the Google API endpoint; overridable for tests
	HTTP    *http.Client // overrides the JWT-authenticated client when set
}

// NewClient creates a Client with a service-account token source.
func NewClient(ctx context.Context, opts ClientOpts) (*Client, error) {
	if opts.Config.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = apiBase
	}
	hc := opts.HTTP
	if hc == nil {
		if opts.Config.ClientEmail == "" || opts.Config.PrivateKey == "" {
			return nil, fmt.Errorf("sheets: service account credentials are required")
		}
		tokenURL := opts.Config.TokenURL
		if tokenURL == "" {
			tokenURL = defaultTokenURL
		}
		conf := &jwt.Config{
			Email:      opts.Config.ClientEmail,
			PrivateKey: []byte(opts.Config.PrivateKey),
			Scopes:     []string{scope},
			TokenURL:   tokenURL,
		}
		hc = oauth2.NewClient(ctx, conf.TokenSource(ctx))
	}
	hc.Timeout = requestTimeout
	return &Client{http: hc, spreadsheetID: opts.Config.SpreadsheetID, baseURL: base}, nil
}

// valueRange is the wire shape of the values API.
type valueRange struct {
	Range  string     `json:"range,omitempty"`
	Values [][]string `json:"values"`
}

// FetchRows reads the cells of an A1 range, e.g. "Reports!A2:F".
func (c *Client) FetchRows(ctx context.Context, a1Range string) ([][]string, error) {
	u := fmt.Sprintf("%s/%s/values/%s", c.baseURL, c.spreadsheetID, url.PathEscape(a1Range))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sheets: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheets: fetch %s: %w", a1Range, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("fetch", a1Range, resp)
	}
	var vr valueRange
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("sheets: decode response: %w", err)
	}
	return vr.Values, nil
}

// AppendRows appends rows after the last data row of an A1 range.
func (c *Client) AppendRows(ctx context.Context, a1Range string, rows [][]string) error {
	u := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW", c.baseURL, c.spreadsheetID, url.PathEscape(a1Range))
	return c.post(ctx, "append", a1Range, u, rows)
}

// WriteRows overwrites the cells of an A1 range.
func (c *Client) WriteRows(ctx context.Context, a1Range string, rows [][]string) error {
	u := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW", c.baseURL, c.spreadsheetID, url.PathEscape(a1Range))
	req, err := c.jsonRequest(ctx, http.MethodPut, u, rows)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sheets: write %s: %w", a1Range, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError("write", a1Range, resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, a1Range, u string, rows [][]string) error {
	req, err := c.jsonRequest(ctx, http.MethodPost, u, rows)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sheets: %s %s: %w", op, a1Range, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(op, a1Range, resp)
	}
	return nil
}

func (c *Client) jsonRequest(ctx context.Context, method, u string, rows [][]string) (*http.Request, error) {
	body, err := json.Marshal(valueRange{Values: rows})
	if err != nil {
		return nil, fmt.Errorf("sheets: marshal values: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sheets: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func apiError(op, a1Range string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("sheets: %s %s: status %d: %s", op, a1Range, resp.StatusCode, bytes.TrimSpace(snippet))
}
