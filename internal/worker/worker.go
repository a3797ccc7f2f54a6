// Package worker runs similarity jobs pulled from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheet-similarity/internal/content"
	"github.com/JakeFAU/sheet-similarity/internal/metrics"
	"github.com/JakeFAU/sheet-similarity/internal/sheets"
	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
	"github.com/JakeFAU/sheet-similarity/internal/similarity"
)

const tracerName = "github.com/JakeFAU/sheet-similarity/internal/worker"

// Result messages.
const (
	msgNoData       = "No data found"
	msgAllProcessed = "All rows already processed"
)

// Config controls Worker behavior.
type Config struct {
	Topic          string
	FlushThreshold int
	ArchivePrefix  string
	ContentLimits  content.Limits
	FetchTimeout   time.Duration
	UserAgents     []string
}

// Pauser spaces out consecutive rows.
type Pauser interface {
	Wait(ctx context.Context) error
}

// Dependencies are the collaborators a Worker drives. Queue, Jobs, Pages,
// Extractor, Engine and Sheets are required; the rest are optional.
type Dependencies struct {
	Queue        sheetsim.Queue
	Jobs         sheetsim.JobStore
	Pages        sheetsim.PageFetcher
	Extractor    sheetsim.Extractor
	Engine       *similarity.Engine
	Sheets       sheets.TabularStore
	WriteLimiter sheets.Limiter
	Pause        Pauser
	Progress     sheetsim.ProgressReporter
	Publisher    sheetsim.Publisher
	Archive      sheetsim.BlobStore
	Hasher       sheetsim.Hasher
	Clock        sheetsim.Clock
}

// Worker consumes queue items and executes the scoring pipeline.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = sheets.DefaultFlushThreshold
	}
	if cfg.ContentLimits == (content.Limits{}) {
		cfg.ContentLimits = content.DefaultLimits()
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Run blocks, consuming queue items until the context finishes. A job that
// has started runs to completion even if ctx is canceled meanwhile.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, sheetsim.ErrQueueClosed) {
				w.logger.Info("queue closed, worker stopping")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(parent context.Context, item sheetsim.QueueItem) {
	ctx := context.WithoutCancel(parent)
	logger := w.logger.With(zap.String("job_id", item.JobID))
	ctx, span := w.tracer.Start(ctx, "similarity.job", trace.WithAttributes(
		attribute.String("job.id", item.JobID),
		attribute.String("sheet.id", item.Request.SpreadsheetID),
		attribute.String("sheet.name", item.Request.SheetName),
	))
	defer span.End()

	err := w.deps.Jobs.UpdateJob(ctx, item.JobID, sheetsim.JobUpdate{
		Status:   sheetsim.JobStatusProcessing,
		Progress: &sheetsim.Progress{Stage: sheetsim.StageInitializing},
	})
	if err != nil {
		logger.Error("job start rejected", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return
	}

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	start := w.deps.Clock.Now()
	logger.Info("job started", zap.String("spreadsheet_id", item.Request.SpreadsheetID), zap.String("sheet", item.Request.SheetName))

	result, runErr := w.runJob(ctx, item, logger)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		w.finish(ctx, item, sheetsim.JobStatusFailed, nil, runErr.Error(), logger)
		logger.Error("job failed", zap.Error(runErr), zap.Duration("elapsed", w.deps.Clock.Now().Sub(start)))
		return
	}
	span.SetAttributes(
		attribute.Int("rows.processed", result.Processed),
		attribute.Int("rows.success", result.Success),
		attribute.Int("rows.failed", result.Failed),
	)
	w.finish(ctx, item, sheetsim.JobStatusCompleted, &result, "", logger)
	logger.Info("job completed",
		zap.String("result", result.Status),
		zap.Int("processed", result.Processed),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", w.deps.Clock.Now().Sub(start)),
	)
}

// runJob reads candidates, scores every row and writes the results back.
// Any returned error is job-level; row failures are counted in the result.
func (w *Worker) runJob(ctx context.Context, item sheetsim.QueueItem, logger *zap.Logger) (sheetsim.Result, error) {
	req := item.Request
	cols := sheets.Columns{
		Article: req.ArticleColumn,
		Target:  req.TargetColumn,
		Output:  req.OutputColumn,
		Label:   req.LabelColumn,
	}
	layout, err := cols.Resolve()
	if err != nil {
		return sheetsim.Result{}, err
	}
	sync := sheets.NewSync(w.deps.Sheets, req.SpreadsheetID,
		sheets.WithLimiter(w.deps.WriteLimiter),
		sheets.WithLogger(logger),
	)

	w.report(ctx, item.JobID, sheetsim.Progress{
		Stage:   sheetsim.StageReadingSpreadsheet,
		Message: fmt.Sprintf("Reading %s...", req.SheetName),
	})
	candidates, err := sync.ReadCandidates(ctx, req.SheetName, cols)
	if err != nil {
		return sheetsim.Result{}, err
	}
	if candidates.DataRows == 0 {
		return sheetsim.Result{Status: sheetsim.ResultEmpty, Message: msgNoData}, nil
	}
	tasks := candidates.Tasks
	if len(tasks) == 0 {
		return sheetsim.Result{Status: sheetsim.ResultComplete, Message: msgAllProcessed}, nil
	}

	fetcher := w.newContentFetcher(item.JobID, logger)
	total := len(tasks)
	w.report(ctx, item.JobID, sheetsim.Progress{Stage: sheetsim.StageProcessing, Total: total})

	result := sheetsim.Result{Status: sheetsim.ResultComplete, Sheet: req.SheetName}
	stage := func(col, row int, value string) error {
		sync.Stage(req.SheetName, sheets.CellName(col, row), value)
		if sync.Pending() >= w.cfg.FlushThreshold {
			return sync.Flush(ctx)
		}
		return nil
	}
	for i, task := range tasks {
		w.report(ctx, item.JobID, sheetsim.Progress{
			Stage:   sheetsim.StageProcessing,
			Message: fmt.Sprintf("Processing row %d (%d/%d)", task.Row, i+1, total),
			Total:   total,
			Current: i + 1,
			Row:     task.Row,
		})

		score := w.scoreRow(ctx, fetcher, task, logger)
		if err := stage(layout.Output, task.Row, score.CellText()); err != nil {
			return sheetsim.Result{}, err
		}
		if err := stage(layout.Label, task.Row, similarity.LabelFor(score).String()); err != nil {
			return sheetsim.Result{}, err
		}
		if score.Valid {
			result.Success++
			metrics.ObserveRow("success")
		} else {
			result.Failed++
			metrics.ObserveRow("failed")
		}

		if i < total-1 && w.deps.Pause != nil {
			if err := w.deps.Pause.Wait(ctx); err != nil {
				return sheetsim.Result{}, err
			}
		}
	}
	if err := sync.Flush(ctx); err != nil {
		return sheetsim.Result{}, err
	}
	result.Processed = total
	return result, nil
}

// scoreRow never fails the job: any problem yields the absent score.
func (w *Worker) scoreRow(ctx context.Context, fetcher *content.Fetcher, task sheetsim.RowTask, logger *zap.Logger) similarity.Score {
	ctx, span := w.tracer.Start(ctx, "similarity.row", trace.WithAttributes(attribute.Int("row", task.Row)))
	defer span.End()

	rowLog := logger.With(zap.Int("row", task.Row))
	article, err := fetcher.Fetch(ctx, task.ArticleURL)
	if err != nil {
		rowLog.Warn("article content unavailable", zap.String("url", task.ArticleURL), zap.String("reason", content.Reason(err)), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return similarity.NA
	}
	target, err := fetcher.Fetch(ctx, task.TargetURL)
	if err != nil {
		rowLog.Warn("target content unavailable", zap.String("url", task.TargetURL), zap.String("reason", content.Reason(err)), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return similarity.NA
	}
	score, err := w.deps.Engine.Score(ctx, article, target)
	if err != nil {
		rowLog.Warn("similarity failed", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return similarity.NA
	}
	span.SetAttributes(attribute.Float64("score", score.Value))
	rowLog.Debug("row scored", zap.Float64("score", score.Value))
	return score
}

func (w *Worker) newContentFetcher(jobID string, logger *zap.Logger) *content.Fetcher {
	opts := []content.Option{
		content.WithLimits(w.cfg.ContentLimits),
		content.WithTimeout(w.cfg.FetchTimeout),
		content.WithUserAgents(w.cfg.UserAgents),
		content.WithLogger(logger),
	}
	if w.deps.Archive != nil && w.deps.Hasher != nil {
		opts = append(opts, content.WithArchive(content.Archive{
			Store:  w.deps.Archive,
			Hasher: w.deps.Hasher,
			Prefix: w.cfg.ArchivePrefix,
			JobID:  jobID,
		}))
	}
	return content.NewFetcher(w.deps.Pages, w.deps.Extractor, opts...)
}

func (w *Worker) report(ctx context.Context, jobID string, p sheetsim.Progress) {
	if w.deps.Progress != nil {
		w.deps.Progress.Report(ctx, jobID, p)
	}
}

func (w *Worker) finish(
	ctx context.Context,
	item sheetsim.QueueItem,
	status sheetsim.JobStatus,
	result *sheetsim.Result,
	errText string,
	logger *zap.Logger,
) {
	update := sheetsim.JobUpdate{Status: status, Result: result}
	if errText != "" {
		update.Error = &errText
	}
	if err := w.deps.Jobs.UpdateJob(ctx, item.JobID, update); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	w.publishFinished(ctx, item, status, result, errText, logger)
}

func (w *Worker) publishFinished(
	ctx context.Context,
	item sheetsim.QueueItem,
	status sheetsim.JobStatus,
	result *sheetsim.Result,
	errText string,
	logger *zap.Logger,
) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	event := sheetsim.FinishedEvent{
		JobID:         item.JobID,
		Status:        status,
		SpreadsheetID: item.Request.SpreadsheetID,
		SheetName:     item.Request.SheetName,
		Result:        result,
		Error:         errText,
		FinishedAt:    w.deps.Clock.Now(),
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish job event failed", zap.Error(err))
		return
	}
	logger.Debug("job event published", zap.String("message_id", id))
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

