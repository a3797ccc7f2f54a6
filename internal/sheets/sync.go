// Package sheets reads candidate rows from a spreadsheet and writes scores
// back in batches.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sheet-similarity/internal/metrics"
	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

// DefaultFlushThreshold is the number of staged updates that triggers a flush.
const DefaultFlushThreshold = 10

// firstDataRow skips the header row.
const firstDataRow = 2

// sentinels mark an output cell as not yet holding a real score. "0" is
// compared literally, so a score that renders as "0" is recomputed.
var sentinels = map[string]struct{}{
	"":      {},
	"N/A":   {},
	"0":     {},
	"ERROR": {},
}

// ValueRange is one write: a range and the rows of values to put there.
type ValueRange struct {
	Range  string
	Values [][]string
}

// TabularStore is the spreadsheet backend.
type TabularStore interface {
	ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	BatchWrite(ctx context.Context, spreadsheetID string, data []ValueRange) error
}

// Limiter gates batched writes per spreadsheet.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Candidates is the outcome of a candidate scan.
type Candidates struct {
	// DataRows counts rows below the header, including skipped ones.
	DataRows int
	Tasks    []sheetsim.RowTask
}

// Option customizes a Sync.
type Option func(*Sync)

// WithLimiter waits on l before every batched write.
func WithLimiter(l Limiter) Option {
	return func(s *Sync) { s.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sync) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Sync stages writes for one spreadsheet. It is used by a single job and is
// not safe for concurrent use.
type Sync struct {
	store         TabularStore
	spreadsheetID string
	limiter       Limiter
	logger        *zap.Logger
	pending       []ValueRange
}

// NewSync binds a Sync to one spreadsheet.
func NewSync(store TabularStore, spreadsheetID string, opts ...Option) *Sync {
	metrics.Init()
	s := &Sync{
		store:         store,
		spreadsheetID: spreadsheetID,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadCandidates reads every data row and keeps the ones that need a score:
// both URLs present and the output cell empty or a sentinel.
func (s *Sync) ReadCandidates(ctx context.Context, sheetName string, cols Columns) (Candidates, error) {
	layout, err := cols.Resolve()
	if err != nil {
		return Candidates{}, err
	}
	rng := fmt.Sprintf("%s!A%d:%s", QuoteSheet(sheetName), firstDataRow, IndexToLetter(layout.lastRead()))
	rows, err := s.store.ReadRange(ctx, s.spreadsheetID, rng)
	if err != nil {
		return Candidates{}, fmt.Errorf("read %s: %w", rng, err)
	}

	out := Candidates{DataRows: len(rows)}
	for i, row := range rows {
		article := cell(row, layout.Article)
		target := cell(row, layout.Target)
		if article == "" || target == "" {
			continue
		}
		if _, todo := sentinels[cell(row, layout.Output)]; !todo {
			continue
		}
		out.Tasks = append(out.Tasks, sheetsim.RowTask{
			Row:        i + firstDataRow,
			ArticleURL: article,
			TargetURL:  target,
		})
	}
	s.logger.Debug("candidate rows read",
		zap.String("range", rng),
		zap.Int("data_rows", out.DataRows),
		zap.Int("candidates", len(out.Tasks)),
	)
	return out, nil
}

// Stage appends a pending single-cell write.
func (s *Sync) Stage(sheetName, cellName, value string) {
	s.pending = append(s.pending, ValueRange{
		Range:  QuoteSheet(sheetName) + "!" + cellName,
		Values: [][]string{{value}},
	})
}

// Pending reports how many writes are staged.
func (s *Sync) Pending() int {
	return len(s.pending)
}

// Flush sends every staged write as one batch. An empty flush does nothing.
// On failure the staged writes are kept.
func (s *Sync) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, s.spreadsheetID); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	batch := append([]ValueRange(nil), s.pending...)
	if err := s.store.BatchWrite(ctx, s.spreadsheetID, batch); err != nil {
		return fmt.Errorf("flush %d updates: %w", len(batch), err)
	}
	metrics.ObserveSheetFlush(len(batch))
	s.logger.Debug("flushed sheet updates", zap.Int("updates", len(batch)))
	s.pending = s.pending[:0]
	return nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
