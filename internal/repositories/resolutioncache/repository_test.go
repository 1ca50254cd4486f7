package resolutioncache

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

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeDB struct {
	execs []executed
}

func (d *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.execs = append(d.execs, executed{query, args})
	return fakeResult{}, nil
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

func TestUpsertReplacesOnSourceIdentity(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, testLogger())

	entry := &models.ResolutionCacheEntry{
		SourcePlatform:  models.PlatformTwitter,
		SourceUserID:    "tw-1",
		GoodreadsUserID: "gr-9",
		Confidence:      0.95,
		Method:          models.MethodLinkedURL,
	}
	require.NoError(t, repo.Upsert(context.Background(), entry))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].query, "ON CONFLICT (source_platform, source_user_id) DO UPDATE")
	assert.Contains(t, db.execs[0].query, "goodreads_user_id = EXCLUDED.goodreads_user_id")
	assert.NotEmpty(t, entry.ID, "id is assigned on first write")
	assert.False(t, entry.LastVerifiedAt.IsZero(), "verification time is stamped")
}

func TestDeleteEvictsSourceIdentity(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, testLogger())

	require.NoError(t, repo.Delete(context.Background(), models.PlatformTwitter, "tw-1"))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].query, "DELETE FROM resolution_cache")
	assert.Contains(t, db.execs[0].query, "source_user_id")
	assert.Equal(t, "tw-1", db.execs[0].args[1])
}
