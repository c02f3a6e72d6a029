package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/property-monitor/internal/listing"
	"github.com/JakeFAU/property-monitor/internal/metrics"
	"github.com/JakeFAU/property-monitor/internal/store"
)

// PageScraper scrapes one page by number.
type PageScraper interface {
	ScrapePage(ctx context.Context, index int) PageResult
}

// Clock supplies timestamps for run bookkeeping.
type Clock interface {
	Now() time.Time
}

// Summary describes one completed run. Inserted is the number of new records.
type Summary struct {
	Pages          int           `json:"pages"`
	PagesSucceeded int           `json:"pages_succeeded"`
	PagesBlocked   int           `json:"pages_blocked"`
	PagesExhausted int           `json:"pages_exhausted"`
	Records        int           `json:"records"`
	Inserted       int           `json:"inserted"`
	Duplicates     int           `json:"duplicates"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration"`
}

// Aggregator fans out page workers and persists what they return.
type Aggregator struct {
	pages  PageScraper
	writer store.Writer
	clock  Clock
	logger *zap.Logger

	// OnPage, when set, is called once per finished page. Calls are serialized.
	OnPage func(PageResult)
}

// NewAggregator constructs an Aggregator.
func NewAggregator(pages PageScraper, writer store.Writer, clock Clock, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		pages:  pages,
		writer: writer,
		clock:  clock,
		logger: logger,
	}
}

// Run scrapes pages 0..pageCount-1 concurrently, then inserts every record
// with a link inside a single batch. Only Begin and Commit failures are
// returned; per-record failures are counted in the Summary.
func (a *Aggregator) Run(ctx context.Context, pageCount int) (Summary, error) {
	start := a.clock.Now()
	summary := Summary{StartedAt: start}
	if pageCount <= 0 {
		summary.FinishedAt = start
		return summary, nil
	}
	summary.Pages = pageCount
	a.logger.Info("scrape started", zap.Int("pages", pageCount))

	results := a.collect(ctx, pageCount)
	for _, res := range results {
		switch res.Outcome {
		case listing.OutcomeSuccess:
			summary.PagesSucceeded++
		case listing.OutcomeBlocked:
			summary.PagesBlocked++
		default:
			summary.PagesExhausted++
		}
		summary.Records += len(res.Records)
	}

	// Records already collected are persisted even if the run was cancelled.
	storeCtx := context.WithoutCancel(ctx)
	err := a.persist(storeCtx, results, &summary)

	summary.FinishedAt = a.clock.Now()
	summary.Duration = summary.FinishedAt.Sub(start)
	metrics.ObserveRun(summary.Duration)
	if err != nil {
		return summary, err
	}
	a.logger.Info("scrape saved",
		zap.Int("inserted", summary.Inserted),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("pages_blocked", summary.PagesBlocked),
		zap.Int("pages_exhausted", summary.PagesExhausted),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (a *Aggregator) collect(ctx context.Context, pageCount int) []PageResult {
	results := make([]PageResult, pageCount)
	var (
		g      errgroup.Group
		hookMu sync.Mutex
	)
	for i := 0; i < pageCount; i++ {
		g.Go(func() error {
			res := a.pages.ScrapePage(ctx, i)
			results[i] = res
			if a.OnPage != nil {
				hookMu.Lock()
				a.OnPage(res)
				hookMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Aggregator) persist(ctx context.Context, results []PageResult, summary *Summary) error {
	batch, err := a.writer.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store batch: %w", err)
	}
	for _, res := range results {
		for _, rec := range res.Records {
			a.insert(ctx, batch, rec, summary)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		if rbErr := batch.Rollback(ctx); rbErr != nil {
			a.logger.Debug("rollback after failed commit", zap.Error(rbErr))
		}
		return fmt.Errorf("commit store batch: %w", err)
	}
	return nil
}

func (a *Aggregator) insert(ctx context.Context, batch store.Batch, rec listing.Record, summary *Summary) {
	if !rec.HasLink() {
		a.logger.Warn("skipping record without link",
			zap.String("price", listing.Value(rec.Price)),
			zap.String("address", listing.Value(rec.Address)),
		)
		summary.Skipped++
		metrics.ObserveRecord(metrics.RecordSkipped)
		return
	}
	inserted, err := batch.InsertIgnore(ctx, rec)
	switch {
	case err != nil:
		a.logger.Error("record insert failed", zap.String("link", rec.Link), zap.Error(err))
		summary.Failed++
		metrics.ObserveRecord(metrics.RecordFailed)
	case inserted:
		summary.Inserted++
		metrics.ObserveRecord(metrics.RecordInserted)
	default:
		summary.Duplicates++
		metrics.ObserveRecord(metrics.RecordDuplicate)
	}
}
