package feeditem

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzhao23/social-reading-discovery/pkg/database"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type executed struct {
	query string
	args  []any
}

type fakeResult struct {
	rows int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

type fakeDB struct {
	execs        []executed
	rowsAffected int64
}

func (d *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.execs = append(d.execs, executed{query, args})
	return fakeResult{rows: d.rowsAffected}, nil
}

func (d *fakeDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return errors.New("not implemented")
}

func (d *fakeDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return errors.New("not implemented")
}

func (d *fakeDB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, errors.New("not implemented")
}

func (d *fakeDB) PingContext(ctx context.Context) error { return nil }
func (d *fakeDB) Close() error                          { return nil }

func (d *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, nil, errors.New("not implemented")
}

func testItems() []*models.FeedItem {
	date := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return []*models.FeedItem{
		{
			UserID:          "user-1",
			ConnectionID:    "conn-1",
			GoodreadsUserID: "gr-1",
			ActivityType:    models.ActivityCurrentlyReading,
			BookID:          "book-1",
			BookTitle:       "A Book",
			ActivityDate:    date,
		},
		{
			UserID:          "user-1",
			ConnectionID:    "conn-1",
			GoodreadsUserID: "gr-1",
			ActivityType:    models.ActivityRead,
			BookID:          "book-2",
			BookTitle:       "Another Book",
			ActivityDate:    date,
		},
	}
}

func TestCreateBatchInsertsOnNaturalKey(t *testing.T) {
	db := &fakeDB{rowsAffected: 2}
	repo := NewRepository(db, testLogger())

	inserted, err := repo.CreateBatch(context.Background(), testItems())
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	require.Len(t, db.execs, 1, "one multi-row insert")
	assert.Contains(t, db.execs[0].query, "INSERT INTO social_feed_items")
	assert.Contains(t, db.execs[0].query,
		"ON CONFLICT (connection_id, book_id, activity_type, activity_date) DO NOTHING")
}

func TestCreateBatchDuplicatesInsertNothing(t *testing.T) {
	db := &fakeDB{rowsAffected: 0}
	repo := NewRepository(db, testLogger())

	inserted, err := repo.CreateBatch(context.Background(), testItems())
	require.NoError(t, err)
	assert.Zero(t, inserted, "re-synced activity inserts no rows")
}

func TestCreateBatchEmpty(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, testLogger())

	inserted, err := repo.CreateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Empty(t, db.execs)
}
