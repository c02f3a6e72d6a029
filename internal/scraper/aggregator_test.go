package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/property-monitor/internal/listing"
	"github.com/JakeFAU/property-monitor/internal/storage/memory"
	"github.com/JakeFAU/property-monitor/internal/store"
)

type stubPages map[int]PageResult

func (s stubPages) ScrapePage(_ context.Context, index int) PageResult {
	res, ok := s[index]
	if !ok {
		return PageResult{Index: index, Outcome: listing.OutcomeExhausted}
	}
	res.Index = index
	return res
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// MockStore is a mock implementation of store.Writer.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Begin(ctx context.Context) (store.Batch, error) {
	args := m.Called(ctx)
	batch, _ := args.Get(0).(store.Batch)
	return batch, args.Error(1)
}

// MockBatch is a mock implementation of store.Batch.
type MockBatch struct {
	mock.Mock
}

func (m *MockBatch) InsertIgnore(ctx context.Context, rec listing.Record) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *MockBatch) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBatch) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func link(l string) listing.Record {
	return listing.Record{Link: l, Price: listing.Text("£" + l)}
}

func success(recs ...listing.Record) PageResult {
	return PageResult{Outcome: listing.OutcomeSuccess, Attempts: 1, Records: recs}
}

func TestAggregatorDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.NewRecordStore(nil)
	pages := stubPages{
		0: success(link("L1"), link("L2")),
		1: success(link("L2"), link("L3")),
	}
	agg := NewAggregator(pages, st, &stepClock{}, nil)

	summary, err := agg.Run(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Inserted)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 4, summary.Records)
	assert.Equal(t, 2, summary.PagesSucceeded)
	assert.Equal(t, time.Second, summary.Duration)

	rows, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "L1", rows[0].Link)
	assert.Equal(t, "L2", rows[1].Link)
	assert.Equal(t, "L3", rows[2].Link)

	// Running the same input again inserts nothing.
	summary, err = agg.Run(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 4, summary.Duplicates)
	rows, err = st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestAggregatorSkipsMissingLinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.NewRecordStore(nil)
	pages := stubPages{0: success(listing.Record{Price: listing.Text("£1")}, link("L1"))}

	summary, err := NewAggregator(pages, st, &stepClock{}, nil).Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.Skipped)

	rows, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].Link)
}

func TestAggregatorBlockedPageContributesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.NewRecordStore(nil)
	pages := stubPages{
		0: success(link("L1")),
		1: {Outcome: listing.OutcomeBlocked, Attempts: 1},
	}

	summary, err := NewAggregator(pages, st, &stepClock{}, nil).Run(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.PagesSucceeded)
	assert.Equal(t, 1, summary.PagesBlocked)
	assert.Equal(t, 1, summary.PagesExhausted)
}

func TestAggregatorZeroPagesDoesNotTouchStore(t *testing.T) {
	t.Parallel()

	st := new(MockStore)
	summary, err := NewAggregator(stubPages{}, st, &stepClock{}, nil).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	st.AssertNotCalled(t, "Begin", mock.Anything)
}

func TestAggregatorCountsInsertFailuresAndContinues(t *testing.T) {
	t.Parallel()

	batch := new(MockBatch)
	batch.On("InsertIgnore", mock.Anything, link("L1")).Return(false, errors.New("disk full")).Once()
	batch.On("InsertIgnore", mock.Anything, link("L2")).Return(true, nil).Once()
	batch.On("Commit", mock.Anything).Return(nil).Once()
	st := new(MockStore)
	st.On("Begin", mock.Anything).Return(batch, nil).Once()

	pages := stubPages{0: success(link("L1"), link("L2"))}
	summary, err := NewAggregator(pages, st, &stepClock{}, nil).Run(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Inserted)
	batch.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestAggregatorReturnsBeginAndCommitErrors(t *testing.T) {
	t.Parallel()

	st := new(MockStore)
	st.On("Begin", mock.Anything).Return(nil, errors.New("no connection")).Once()
	_, err := NewAggregator(stubPages{0: success(link("L1"))}, st, &stepClock{}, nil).Run(context.Background(), 1)
	require.ErrorContains(t, err, "begin store batch")

	batch := new(MockBatch)
	batch.On("InsertIgnore", mock.Anything, mock.Anything).Return(true, nil)
	batch.On("Commit", mock.Anything).Return(errors.New("serialization failure")).Once()
	batch.On("Rollback", mock.Anything).Return(nil).Once()
	st = new(MockStore)
	st.On("Begin", mock.Anything).Return(batch, nil).Once()
	summary, err := NewAggregator(stubPages{0: success(link("L1"))}, st, &stepClock{}, nil).Run(context.Background(), 1)
	require.ErrorContains(t, err, "commit store batch")
	assert.Equal(t, 1, summary.Inserted)
	batch.AssertExpectations(t)
}

func TestAggregatorPersistsAfterCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := memory.NewRecordStore(nil)
	summary, err := NewAggregator(stubPages{0: success(link("L1"))}, st, &stepClock{}, nil).Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
}

func TestAggregatorOnPageHook(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []int
	)
	agg := NewAggregator(stubPages{0: success(), 1: success(), 2: success()}, memory.NewRecordStore(nil), &stepClock{}, nil)
	agg.OnPage = func(res PageResult) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, res.Index)
	}
	_, err := agg.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2}, seen)
}
