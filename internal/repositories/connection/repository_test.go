package connection

import (
	"context"
	"database/sql"
	"errors"
	"testing"

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

type fakeTx struct {
	execs     []executed
	commits   int
	rollbacks int
}

func (t *fakeTx) IsOpen() bool { return t.commits == 0 }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rollbacks++
	return nil
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.execs = append(t.execs, executed{query, args})
	return fakeResult{rows: 1}, nil
}

func (t *fakeTx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return errors.New("not implemented")
}

func (t *fakeTx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return errors.New("not implemented")
}

type fakeDB struct {
	tx    *fakeTx
	execs []executed
}

func (d *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.execs = append(d.execs, executed{query, args})
	return fakeResult{rows: 1}, nil
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
	return ctx, d.tx, nil
}

func strPtr(s string) *string { return &s }

func TestRejectMatchMatchedConnection(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	repo := NewRepository(db, testLogger())

	conn := &models.Connection{
		ID:              "conn-1",
		ImportID:        "imp-1",
		GoodreadsUserID: strPtr("gr-9"),
	}

	require.NoError(t, repo.RejectMatch(context.Background(), conn))

	require.Len(t, db.tx.execs, 3, "clear, decrement, and feed delete run in one transaction")
	assert.Contains(t, db.tx.execs[0].query, "UPDATE social_connections")

	// Decrement floors at zero so concurrent rejects never go negative
	assert.Contains(t, db.tx.execs[1].query, "GREATEST(matched_accounts - 1, 0)")
	assert.Equal(t, "imp-1", db.tx.execs[1].args[1])

	assert.Contains(t, db.tx.execs[2].query, "DELETE FROM social_feed_items")
	assert.Equal(t, 1, db.tx.commits)
}

func TestRejectMatchUnmatchedConnection(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	repo := NewRepository(db, testLogger())

	conn := &models.Connection{ID: "conn-1", ImportID: "imp-1"}

	require.NoError(t, repo.RejectMatch(context.Background(), conn))

	require.Len(t, db.tx.execs, 1, "no counter or feed statements for an unmatched connection")
	assert.Contains(t, db.tx.execs[0].query, "UPDATE social_connections")
	assert.Equal(t, 1, db.tx.commits)
}
