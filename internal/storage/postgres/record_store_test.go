package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/property-monitor/internal/listing"
	"github.com/JakeFAU/property-monitor/internal/store"
)

func newMockStore(t *testing.T) (*RecordStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return s, mock
}

func sampleRecord(link string) listing.Record {
	return listing.Record{
		Price:       listing.Text("£350,000"),
		Address:     listing.Text("1 High Street"),
		Description: listing.Text("Terraced house"),
		Bedrooms:    listing.Text("3"),
		Link:        link,
	}
}

var insertSQL = regexp.QuoteMeta("INSERT INTO properties (price, address, description, bedrooms, link)")

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS properties")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchInsertIgnoreAndCommit(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	first := sampleRecord("https://www.rightmove.co.uk/properties/1")
	dup := sampleRecord("https://www.rightmove.co.uk/properties/1")

	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT propmon_insert").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(insertSQL).
		WithArgs(first.Price, first.Address, first.Description, first.Bedrooms, first.Link).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("^RELEASE SAVEPOINT propmon_insert").WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectExec("^SAVEPOINT propmon_insert").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(insertSQL).
		WithArgs(dup.Price, dup.Address, dup.Description, dup.Bedrooms, dup.Link).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("^RELEASE SAVEPOINT propmon_insert").WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	batch, err := s.Begin(ctx)
	require.NoError(t, err)
	inserted, err := batch.InsertIgnore(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = batch.InsertIgnore(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, batch.Commit(ctx))
	require.NoError(t, batch.Rollback(ctx), "rollback after commit is a no-op")
	_, err = batch.InsertIgnore(ctx, first)
	require.ErrorIs(t, err, store.ErrBatchDone)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchInsertFailureRollsBackToSavepoint(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	bad := sampleRecord("https://x/bad")
	good := sampleRecord("https://x/good")

	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT propmon_insert").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(insertSQL).
		WithArgs(bad.Price, bad.Address, bad.Description, bad.Bedrooms, bad.Link).
		WillReturnError(errors.New("value too long"))
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT propmon_insert").WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectExec("^SAVEPOINT propmon_insert").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(insertSQL).
		WithArgs(good.Price, good.Address, good.Description, good.Bedrooms, good.Link).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("^RELEASE SAVEPOINT propmon_insert").WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	batch, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = batch.InsertIgnore(ctx, bad)
	require.ErrorContains(t, err, "value too long")
	inserted, err := batch.InsertIgnore(ctx, good)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, batch.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRollback(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	batch, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, batch.Rollback(context.Background()))
	require.ErrorIs(t, batch.Commit(context.Background()), store.ErrBatchDone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := s.Begin(context.Background())
	require.ErrorContains(t, err, "begin transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersByID(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	price, addr, desc, beds := "£1", "A", "D", "2"
	rows := pgxmock.NewRows([]string{"id", "price", "address", "description", "bedrooms", "link", "scraped_at"}).
		AddRow(int64(1), &price, &addr, &desc, &beds, "https://x/1", ts).
		AddRow(int64(2), &price, &addr, &desc, &beds, "https://x/2", ts)
	mock.ExpectQuery(regexp.QuoteMeta("FROM properties")).WillReturnRows(rows)

	got, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "https://x/2", got[1].Link)
	assert.Equal(t, "£1", listing.Value(got[0].Price))
	assert.Equal(t, ts, got[1].ScrapedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "properties; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
	s, err := NewWithPool(mock, "rightmove_listings")
	require.NoError(t, err)
	assert.Equal(t, "rightmove_listings", s.table)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
