// Package scraper runs one scrape: page workers fetch and extract listing
// pages concurrently and the aggregator persists their records.
package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/property-monitor/internal/listing"
	"github.com/JakeFAU/property-monitor/internal/metrics"
	"github.com/JakeFAU/property-monitor/internal/random"
)

// Fetcher retrieves page content with retries.
type Fetcher interface {
	Fetch(ctx context.Context, target listing.FetchTarget, maxAttempts int) listing.Outcome
}

// Extractor parses page content into records.
type Extractor interface {
	Extract(content string) []listing.Record
}

// Sleeper suspends until d elapses or ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Politeness is the random delay applied after every page fetch.
type Politeness struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// DefaultPoliteness returns the 1-3s window.
func DefaultPoliteness() Politeness {
	return Politeness{Min: time.Second, Max: 3 * time.Second}
}

// PageResult is what a page worker hands back to the aggregator.
type PageResult struct {
	Index    int
	URL      string
	Outcome  listing.OutcomeKind
	Attempts int
	Records  []listing.Record
}

// PageWorker scrapes a single listing page. It never fails: problems are
// logged and produce an empty record list.
type PageWorker struct {
	site        Site
	fetcher     Fetcher
	extractor   Extractor
	sleeper     Sleeper
	rnd         random.Source
	politeness  Politeness
	maxAttempts int
	logger      *zap.Logger
}

// NewPageWorker constructs a PageWorker.
func NewPageWorker(
	site Site,
	fetcher Fetcher,
	extractor Extractor,
	sleeper Sleeper,
	rnd random.Source,
	politeness Politeness,
	maxAttempts int,
	logger *zap.Logger,
) *PageWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rnd == nil {
		rnd = random.Global()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &PageWorker{
		site:        site,
		fetcher:     fetcher,
		extractor:   extractor,
		sleeper:     sleeper,
		rnd:         rnd,
		politeness:  politeness,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// ScrapePage fetches page number index, waits the politeness delay and
// extracts records when the fetch succeeded.
func (w *PageWorker) ScrapePage(ctx context.Context, index int) PageResult {
	target := w.site.Target(w.site.Offset(index))
	log := w.logger.With(zap.Int("page", index), zap.String("url", target.URL))
	result := PageResult{Index: index, URL: target.URL}

	log.Debug("page fetching")
	outcome := w.fetcher.Fetch(ctx, target, w.maxAttempts)
	result.Outcome = outcome.Kind
	result.Attempts = outcome.Attempts

	w.politenessDelay(ctx, log)

	if outcome.Kind != listing.OutcomeSuccess {
		log.Debug("page done without content", zap.Stringer("outcome", outcome.Kind))
		metrics.ObservePage(outcome.Kind.String())
		return result
	}

	log.Debug("page extracting", zap.Int("bytes", len(outcome.Body)))
	result.Records = w.extract(outcome.Body, log)
	log.Debug("page done", zap.Int("records", len(result.Records)))
	metrics.ObservePage(outcome.Kind.String())
	return result
}

func (w *PageWorker) politenessDelay(ctx context.Context, log *zap.Logger) {
	if w.sleeper == nil {
		return
	}
	delay := random.Between(w.rnd, w.politeness.Min, w.politeness.Max)
	if delay <= 0 {
		return
	}
	if err := w.sleeper.Sleep(ctx, delay); err != nil {
		log.Debug("politeness delay interrupted", zap.Error(err))
	}
}

func (w *PageWorker) extract(body []byte, log *zap.Logger) (records []listing.Record) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("extractor panicked", zap.Any("panic", r))
			records = nil
		}
	}()
	return w.extractor.Extract(string(body))
}
