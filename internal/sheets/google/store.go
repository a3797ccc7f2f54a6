// Package google implements sheets.TabularStore over the Google Sheets API v4.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/sheet-similarity/internal/sheets"
)

// valueInputOption makes the API parse written values as if typed by a user.
const valueInputOption = "USER_ENTERED"

// ErrNoCredentials is returned when neither inline nor file credentials are set.
var ErrNoCredentials = errors.New("google sheets credentials not configured")

// Config selects credentials for the service account.
type Config struct {
	CredentialsJSON string
	CredentialsFile string
	// Endpoint overrides the API base URL and disables authentication.
	Endpoint string
}

// Store builds the API client on first use, so a missing or broken
// credential fails the job that needs it rather than process startup.
type Store struct {
	cfg Config

	mu  sync.Mutex
	svc *sheetsapi.Service
}

// New returns a Store.
func New(cfg Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) service(ctx context.Context) (*sheetsapi.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.svc != nil {
		return s.svc, nil
	}
	opts, err := s.clientOptions()
	if err != nil {
		return nil, err
	}
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	s.svc = svc
	return svc, nil
}

func (s *Store) clientOptions() ([]option.ClientOption, error) {
	if s.cfg.Endpoint != "" {
		return []option.ClientOption{option.WithEndpoint(s.cfg.Endpoint), option.WithoutAuthentication()}, nil
	}
	creds := []byte(s.cfg.CredentialsJSON)
	if len(creds) == 0 && s.cfg.CredentialsFile != "" {
		raw, err := os.ReadFile(s.cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read sheets credentials: %w", err)
		}
		creds = raw
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	return []option.ClientOption{
		option.WithCredentialsJSON(creds),
		option.WithScopes(sheetsapi.SpreadsheetsScope),
	}, nil
}

// ReadRange returns the formatted cell values in rng.
func (s *Store) ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("values.get: %w", err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// BatchWrite sends all ranges in one values.batchUpdate call.
func (s *Store) BatchWrite(ctx context.Context, spreadsheetID string, data []sheets.ValueRange) error {
	if len(data) == 0 {
		return nil
	}
	svc, err := s.service(ctx)
	if err != nil {
		return err
	}
	req := &sheetsapi.BatchUpdateValuesRequest{
		ValueInputOption: valueInputOption,
		Data:             make([]*sheetsapi.ValueRange, 0, len(data)),
	}
	for _, vr := range data {
		values := make([][]interface{}, len(vr.Values))
		for i, row := range vr.Values {
			values[i] = make([]interface{}, len(row))
			for j, v := range row {
				values[i][j] = v
			}
		}
		req.Data = append(req.Data, &sheetsapi.ValueRange{Range: vr.Range, Values: values})
	}
	if _, err := svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("values.batchUpdate: %w", err)
	}
	return nil
}
