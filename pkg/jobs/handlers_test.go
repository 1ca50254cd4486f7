package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzhao23/social-reading-discovery/pkg/goodreads"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/redis"
	"github.com/jzhao23/social-reading-discovery/pkg/resolution"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeImports struct {
	imp        *models.Import
	statuses   []models.ImportStatus
	errorMsgs  []*string
	totals     []int
	accountIDs []string
	completed  int
	resolved   int
	matched    int
}

func (f *fakeImports) Get(ctx context.Context, id string) (*models.Import, error) {
	if f.imp == nil || f.imp.ID != id {
		return nil, errors.New("import not found")
	}
	copied := *f.imp
	return &copied, nil
}

func (f *fakeImports) SetStatus(ctx context.Context, id string, status models.ImportStatus, errMsg *string) error {
	f.statuses = append(f.statuses, status)
	f.errorMsgs = append(f.errorMsgs, errMsg)
	f.imp.Status = status
	return nil
}

func (f *fakeImports) SetTotalAccounts(ctx context.Context, id string, total int) error {
	f.totals = append(f.totals, total)
	return nil
}

func (f *fakeImports) MarkComplete(ctx context.Context, id string) error {
	f.completed++
	f.imp.Status = models.ImportStatusComplete
	return nil
}

func (f *fakeImports) SetSourceAccountID(ctx context.Context, id string, accountID string) error {
	f.accountIDs = append(f.accountIDs, accountID)
	f.imp.SourceAccountID = accountID
	return nil
}

func (f *fakeImports) IncrementResolved(ctx context.Context, id string) error {
	f.resolved++
	return nil
}

func (f *fakeImports) IncrementMatched(ctx context.Context, id string) error {
	f.matched++
	return nil
}

type appliedMatch struct {
	connectionID    string
	goodreadsUserID string
	confidence      float64
	method          models.ResolutionMethod
	verified        bool
}

type fakeConnections struct {
	byID    map[string]*models.Connection
	created [][]*models.Connection
	listed  []models.Connection
	applied []appliedMatch
}

func (f *fakeConnections) Get(ctx context.Context, id string) (*models.Connection, error) {
	conn, ok := f.byID[id]
	if !ok {
		return nil, errors.New("connection not found")
	}
	copied := *conn
	return &copied, nil
}

func (f *fakeConnections) CreateBatch(ctx context.Context, connections []*models.Connection) error {
	f.created = append(f.created, connections)
	return nil
}

func (f *fakeConnections) ListByImport(ctx context.Context, importID string) ([]models.Connection, error) {
	return f.listed, nil
}

func (f *fakeConnections) ApplyMatch(ctx context.Context, id string, goodreadsUserID string, confidence float64, method models.ResolutionMethod, verified bool) error {
	f.applied = append(f.applied, appliedMatch{id, goodreadsUserID, confidence, method, verified})
	return nil
}

type fakeFeed struct {
	batches  [][]*models.FeedItem
	inserted int64
}

func (f *fakeFeed) CreateBatch(ctx context.Context, items []*models.FeedItem) (int64, error) {
	f.batches = append(f.batches, items)
	return f.inserted, nil
}

type fakeSocial struct {
	profile    *models.SourceProfile
	profileErr error
	profiles   []models.SourceProfile
	err        error
	fetchedIDs []string
	lookedUp   []string
}

func (f *fakeSocial) FetchProfileByHandle(ctx context.Context, handle string) (*models.SourceProfile, error) {
	f.lookedUp = append(f.lookedUp, handle)
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return &models.SourceProfile{UserID: "acct-" + handle, Handle: handle}, nil
}

func (f *fakeSocial) FetchFollowing(ctx context.Context, accountID string) ([]models.SourceProfile, error) {
	f.fetchedIDs = append(f.fetchedIDs, accountID)
	return f.profiles, f.err
}

type fakeReading struct {
	shelves map[string][]goodreads.ShelfBook
	updates []models.ReadingActivity
	rssErr  error
}

func (f *fakeReading) FetchShelf(ctx context.Context, userID string, shelf string) ([]goodreads.ShelfBook, error) {
	return f.shelves[shelf], nil
}

func (f *fakeReading) FetchRecentActivity(ctx context.Context, userID string) ([]models.ReadingActivity, error) {
	return f.updates, f.rssErr
}

type fakeResolver struct {
	match *resolution.Match
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, profile *models.SourceProfile) (*resolution.Match, error) {
	return f.match, f.err
}

type fakeEmitter struct {
	importsCompleted int
	resolved         int
	feedEvents       []int64
}

func (f *fakeEmitter) ImportCompleted(ctx context.Context, imp *models.Import) error {
	f.importsCompleted++
	return nil
}

func (f *fakeEmitter) ConnectionResolved(ctx context.Context, conn *models.Connection) error {
	f.resolved++
	return nil
}

func (f *fakeEmitter) FeedItemsCreated(ctx context.Context, userID string, count int64) error {
	f.feedEvents = append(f.feedEvents, count)
	return nil
}

type enqueued struct {
	kind    Kind
	userID  string
	payload any
}

type fakeDispatcher struct {
	jobs []enqueued
	err  error
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, kind Kind, userID string, payload any) error {
	f.jobs = append(f.jobs, enqueued{kind, userID, payload})
	return f.err
}

type handlerFixture struct {
	handlers    *Handlers
	imports     *fakeImports
	connections *fakeConnections
	feed        *fakeFeed
	social      *fakeSocial
	reading     *fakeReading
	resolver    *fakeResolver
	emitter     *fakeEmitter
	dispatcher  *fakeDispatcher
}

func newFixture() *handlerFixture {
	f := &handlerFixture{
		imports:     &fakeImports{},
		connections: &fakeConnections{byID: map[string]*models.Connection{}},
		feed:        &fakeFeed{},
		social:      &fakeSocial{},
		reading:     &fakeReading{shelves: map[string][]goodreads.ShelfBook{}},
		resolver:    &fakeResolver{},
		emitter:     &fakeEmitter{},
		dispatcher:  &fakeDispatcher{},
	}
	f.handlers = NewHandlers(
		f.imports, f.connections, f.feed,
		f.social, f.reading, f.resolver, f.emitter,
		nil, 2, testLogger(),
	)
	f.handlers.SetDispatcher(f.dispatcher)
	return f
}

func TestHandleImport(t *testing.T) {
	f := newFixture()
	f.imports.imp = &models.Import{
		ID:              "imp-1",
		UserID:          "user-1",
		SourcePlatform:  models.PlatformTwitter,
		SourceAccountID: "acct-1",
		Status:          models.ImportStatusPending,
	}
	f.social.profiles = []models.SourceProfile{
		{UserID: "tw-1", Handle: "alice", DisplayName: "Alice", ProfileURL: "https://x.com/alice"},
		{UserID: "tw-2", Handle: "bob", DisplayName: "Bob"},
	}
	f.connections.listed = []models.Connection{{ID: "conn-1"}, {ID: "conn-2"}}

	err := f.handlers.HandleImport(context.Background(), ImportPayload{ImportID: "imp-1"})
	require.NoError(t, err)

	assert.Equal(t, []models.ImportStatus{models.ImportStatusProcessing}, f.imports.statuses)
	assert.Equal(t, []int{2}, f.imports.totals)
	assert.Equal(t, 1, f.imports.completed)
	assert.Equal(t, 1, f.emitter.importsCompleted)

	require.Len(t, f.connections.created, 1)
	batch := f.connections.created[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "imp-1", batch[0].ImportID)
	assert.Equal(t, "https://x.com/bob", batch[1].SourceProfileURL, "missing profile url gets a fallback")

	// One resolve job per connection, using the persisted ids
	require.Len(t, f.dispatcher.jobs, 2)
	assert.Equal(t, KindResolve, f.dispatcher.jobs[0].kind)
	assert.Equal(t, ResolvePayload{ImportID: "imp-1", ConnectionID: "conn-1"}, f.dispatcher.jobs[0].payload)
}

func TestHandleImportResolvesHandleWhenAccountIDMissing(t *testing.T) {
	f := newFixture()
	f.imports.imp = &models.Import{
		ID:             "imp-1",
		UserID:         "user-1",
		SourcePlatform: models.PlatformTwitter,
		SourceHandle:   "someuser",
		Status:         models.ImportStatusPending,
	}
	f.social.profile = &models.SourceProfile{UserID: "acct-42", Handle: "someuser"}

	err := f.handlers.HandleImport(context.Background(), ImportPayload{ImportID: "imp-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"someuser"}, f.social.lookedUp)
	assert.Equal(t, []string{"acct-42"}, f.imports.accountIDs, "resolved id is persisted")
	require.Len(t, f.social.fetchedIDs, 1)
	assert.Equal(t, "acct-42", f.social.fetchedIDs[0], "following list is fetched with the resolved id")
}

func TestHandleImportHandleLookupFailure(t *testing.T) {
	f := newFixture()
	f.imports.imp = &models.Import{ID: "imp-1", SourcePlatform: models.PlatformTwitter, SourceHandle: "someuser"}
	f.social.profileErr = errors.New("user not found")

	err := f.handlers.HandleImport(context.Background(), ImportPayload{ImportID: "imp-1"})
	require.Error(t, err)

	assert.Empty(t, f.social.fetchedIDs, "no graph fetch without an account id")
	require.Len(t, f.imports.statuses, 2)
	assert.Equal(t, models.ImportStatusFailed, f.imports.statuses[1])
}

func TestHandleImportEmptyGraph(t *testing.T) {
	f := newFixture()
	f.imports.imp = &models.Import{ID: "imp-1", UserID: "user-1", SourcePlatform: models.PlatformTwitter}

	err := f.handlers.HandleImport(context.Background(), ImportPayload{ImportID: "imp-1"})
	require.NoError(t, err)

	assert.Equal(t, []int{0}, f.imports.totals)
	assert.Equal(t, 1, f.imports.completed)
	assert.Empty(t, f.connections.created)
	assert.Empty(t, f.dispatcher.jobs)
}

func TestHandleImportFetchFailure(t *testing.T) {
	f := newFixture()
	f.imports.imp = &models.Import{ID: "imp-1", SourcePlatform: models.PlatformTwitter}
	f.social.err = errors.New("twitter down")

	err := f.handlers.HandleImport(context.Background(), ImportPayload{ImportID: "imp-1"})
	require.Error(t, err)

	require.Len(t, f.imports.statuses, 2)
	assert.Equal(t, models.ImportStatusFailed, f.imports.statuses[1])
	require.NotNil(t, f.imports.errorMsgs[1])
	assert.Contains(t, *f.imports.errorMsgs[1], "twitter down")
	assert.Zero(t, f.imports.completed)
}

func TestHandleResolveMatch(t *testing.T) {
	f := newFixture()
	f.imports.imp = &models.Import{ID: "imp-1"}
	f.connections.byID["conn-1"] = &models.Connection{
		ID:             "conn-1",
		ImportID:       "imp-1",
		UserID:         "user-1",
		SourcePlatform: models.PlatformTwitter,
		SourceUserID:   "tw-1",
		SourceHandle:   "alice",
		SourceBio:      "reader at https://www.goodreads.com/user/show/11",
	}
	f.resolver.match = &resolution.Match{
		GoodreadsUserID: "11",
		Confidence:      resolution.LinkedURLConfidence,
		Method:          models.MethodLinkedURL,
	}

	err := f.handlers.HandleResolve(context.Background(), ResolvePayload{ImportID: "imp-1", ConnectionID: "conn-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.imports.resolved)
	assert.Equal(t, 1, f.imports.matched)
	require.Len(t, f.connections.applied, 1)
	applied := f.connections.applied[0]
	assert.Equal(t, "11", applied.goodreadsUserID)
	assert.False(t, applied.verified, "automated matches are never user-verified")
	assert.Equal(t, 1, f.emitter.resolved)

	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, KindActivity, f.dispatcher.jobs[0].kind)
	assert.Equal(t, ActivityPayload{ConnectionID: "conn-1"}, f.dispatcher.jobs[0].payload)
}

func TestHandleResolveNoMatch(t *testing.T) {
	f := newFixture()
	f.imports.imp = &models.Import{ID: "imp-1"}
	f.connections.byID["conn-1"] = &models.Connection{ID: "conn-1", ImportID: "imp-1"}

	err := f.handlers.HandleResolve(context.Background(), ResolvePayload{ImportID: "imp-1", ConnectionID: "conn-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.imports.resolved, "resolved counts every attempt, matched or not")
	assert.Zero(t, f.imports.matched)
	assert.Empty(t, f.connections.applied)
	assert.Empty(t, f.dispatcher.jobs)
}

func TestHandleActivity(t *testing.T) {
	f := newFixture()
	readerID := "11"
	f.connections.byID["conn-1"] = &models.Connection{
		ID:              "conn-1",
		UserID:          "user-1",
		GoodreadsUserID: &readerID,
	}

	added := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	readDate := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	f.reading.shelves[goodreads.ShelfCurrentlyReading] = []goodreads.ShelfBook{
		{Book: models.Book{ID: "b1", Title: "Current"}, DateAdded: &added},
	}
	// One over the fixture's read shelf limit of 2
	f.reading.shelves[goodreads.ShelfRead] = []goodreads.ShelfBook{
		{Book: models.Book{ID: "b2", Title: "Rated"}, Rating: 5, DateRead: &readDate},
		{Book: models.Book{ID: "b3", Title: "Unrated"}, DateAdded: &added},
		{Book: models.Book{ID: "b4", Title: "Over Limit"}},
	}
	f.reading.updates = []models.ReadingActivity{
		{Type: models.ActivityReview, Book: models.Book{ID: "b5", Title: "Reviewed"}, ReviewSnippet: "loved it", ActivityDate: readDate},
		{Type: models.ActivityShelved, Book: models.Book{ID: "b6", Title: "Shelved"}},
	}
	f.feed.inserted = 3

	err := f.handlers.HandleActivity(context.Background(), ActivityPayload{ConnectionID: "conn-1"})
	require.NoError(t, err)

	require.Len(t, f.feed.batches, 1)
	items := f.feed.batches[0]
	require.Len(t, items, 4, "read shelf is capped and only review updates carry over")

	assert.Equal(t, models.ActivityCurrentlyReading, items[0].ActivityType)
	assert.Equal(t, added, items[0].ActivityDate)

	assert.Equal(t, models.ActivityRating, items[1].ActivityType, "rated read books become rating items")
	require.NotNil(t, items[1].Rating)
	assert.Equal(t, 5, *items[1].Rating)
	assert.Equal(t, readDate, items[1].ActivityDate)

	assert.Equal(t, models.ActivityRead, items[2].ActivityType)
	assert.Nil(t, items[2].Rating)

	assert.Equal(t, models.ActivityReview, items[3].ActivityType)
	require.NotNil(t, items[3].ReviewSnippet)
	assert.Equal(t, "loved it", *items[3].ReviewSnippet)

	assert.Equal(t, []int64{3}, f.emitter.feedEvents)
}

func TestHandleActivityUnmatchedConnection(t *testing.T) {
	f := newFixture()
	f.connections.byID["conn-1"] = &models.Connection{ID: "conn-1", UserID: "user-1"}

	err := f.handlers.HandleActivity(context.Background(), ActivityPayload{ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.Empty(t, f.feed.batches)
}

func TestHandleActivityRSSFailureUsesShelvesOnly(t *testing.T) {
	f := newFixture()
	readerID := "11"
	f.connections.byID["conn-1"] = &models.Connection{ID: "conn-1", UserID: "user-1", GoodreadsUserID: &readerID}
	f.reading.shelves[goodreads.ShelfRead] = []goodreads.ShelfBook{
		{Book: models.Book{ID: "b1", Title: "Read"}},
	}
	f.reading.rssErr = errors.New("feed unavailable")
	f.feed.inserted = 1

	err := f.handlers.HandleActivity(context.Background(), ActivityPayload{ConnectionID: "conn-1"})
	require.NoError(t, err)
	require.Len(t, f.feed.batches, 1)
	assert.Len(t, f.feed.batches[0], 1)
}

func TestHandleUnknownJobType(t *testing.T) {
	f := newFixture()
	err := f.handlers.Handle(context.Background(), &redis.JobMessage{Type: "bogus"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownJobType)
}
