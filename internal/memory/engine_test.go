package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(NewInMemoryStore(), Config{}, zap.NewNop())
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	var mu sync.Mutex
	e.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return e
}

func mustStore(t *testing.T, e *Engine, owner, content string) Record {
	t.Helper()
	out, err := e.Add(context.Background(), AddRequest{OwnerID: owner, Content: content})
	require.NoError(t, err)
	rec, ok := out.Record()
	require.Truef(t, ok, "expected %q to be stored, got %+v", content, out)
	return rec
}

func TestAddExactDuplicateIsRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first := mustStore(t, e, "u1", "My sister is called Anna")

	out, err := e.Add(ctx, AddRequest{OwnerID: "u1", Content: "  my sister is called anna "})
	require.NoError(t, err)
	assert.False(t, out.Stored())
	rej, ok := out.Rejection()
	require.True(t, ok)
	assert.Equal(t, ReasonExactDuplicate, rej.Reason)
	assert.Equal(t, first.ID, rej.MatchID)

	all, err := e.All(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAddSemanticDuplicateIsRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustStore(t, e, "u1", "User likes pizza")

	out, err := e.Add(ctx, AddRequest{OwnerID: "u1", Content: "User enjoys eating pizza"})
	require.NoError(t, err)
	rej, ok := out.Rejection()
	require.True(t, ok)
	assert.Equal(t, ReasonSemanticDuplicate, rej.Reason)
	assert.GreaterOrEqual(t, rej.Score, 0.8)
}

func TestAddKeepsDistinctStatements(t *testing.T) {
	e := newTestEngine(t)

	mustStore(t, e, "u1", "User likes pizza")
	mustStore(t, e, "u1", "User dislikes pizza")
	mustStore(t, e, "u1", "User does not like sushi")
	mustStore(t, e, "u1", "User likes sushi")
	mustStore(t, e, "u1", "Dentist appointment on 2026-03-04")
	mustStore(t, e, "u1", "Dentist appointment on 2026-03-05")
}

func TestAddDuplicatesAreScopedPerOwner(t *testing.T) {
	e := newTestEngine(t)

	mustStore(t, e, "u1", "Lives in Lisbon")
	mustStore(t, e, "u2", "Lives in Lisbon")
}

func TestRejectionNeverCarriesAnID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustStore(t, e, "u1", "Works as a nurse")

	bad := -0.5
	cases := []AddRequest{
		{OwnerID: "u1", Content: "   "},
		{OwnerID: "", Content: "something"},
		{OwnerID: "u1", Content: "valid", Confidence: &bad},
		{OwnerID: "u1", Content: "works as a nurse"},
		{OwnerID: "u1", Content: "Works as nurse"},
	}
	for _, req := range cases {
		out, err := e.Add(ctx, req)
		require.NoError(t, err)
		assert.False(t, out.Stored(), "content %q", req.Content)
		id, ok := out.ID()
		assert.False(t, ok)
		assert.Empty(t, id)
		_, ok = out.Record()
		assert.False(t, ok)
	}

	var zero AddOutcome
	assert.False(t, zero.Stored())
	_, ok := zero.ID()
	assert.False(t, ok)
}

func TestValidationRejectionReason(t *testing.T) {
	e := newTestEngine(t)

	out, err := e.Add(context.Background(), AddRequest{OwnerID: "u1", Content: "\n\t"})
	require.NoError(t, err)
	rej, ok := out.Rejection()
	require.True(t, ok)
	assert.Equal(t, ReasonValidation, rej.Reason)
}

func TestAddAssignsTopicsAndDefaults(t *testing.T) {
	e := newTestEngine(t)

	rec := mustStore(t, e, "u1", "My mother loves gardening")
	assert.Contains(t, rec.Topics, "family")
	assert.Contains(t, rec.Topics, "preferences")
	assert.Equal(t, 1.0, rec.Confidence)
	assert.Equal(t, SyncPending, rec.SyncState)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, rec.CreatedAt, rec.LastUpdated)

	plain := mustStore(t, e, "u1", "The blue folder is on the shelf")
	assert.Equal(t, []string{GeneralTopic}, plain.Topics)

	conf := 0.4
	out, err := e.Add(context.Background(), AddRequest{OwnerID: "u1", Content: "Might be allergic to cats", Topics: []string{" Health ", "health"}, Confidence: &conf, IsProxy: true, ProxySource: "calendar"})
	require.NoError(t, err)
	proxy, ok := out.Record()
	require.True(t, ok)
	assert.Equal(t, []string{"health"}, proxy.Topics)
	assert.Equal(t, 0.4, proxy.Confidence)
	assert.True(t, proxy.IsProxy)
	assert.Equal(t, "calendar", proxy.ProxySource)
}

func TestListAndEmptySearchAreEquivalent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	for _, c := range []string{"Has a dog named Rex", "Works at the harbour", "Studies French on Tuesdays", "Favourite colour is green"} {
		mustStore(t, e, "u1", c)
	}
	mustStore(t, e, "u2", "Other owner's memory")

	all, err := e.All(ctx, "u1")
	require.NoError(t, err)
	scored, err := e.Search(ctx, "u1", SearchOptions{})
	require.NoError(t, err)

	var fromAll, fromSearch []string
	for _, r := range all {
		fromAll = append(fromAll, r.ID)
	}
	for _, s := range scored {
		fromSearch = append(fromSearch, s.Record.ID)
	}
	sort.Strings(fromAll)
	sort.Strings(fromSearch)
	assert.Equal(t, fromAll, fromSearch)
	assert.Len(t, fromAll, 4)
	assert.Equal(t, "Favourite colour is green", scored[0].Record.Content)
}

func TestSearchScoresAndTopics(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustStore(t, e, "u1", "Plays guitar every weekend")
	mustStore(t, e, "u1", "Brother lives in Porto")
	mustStore(t, e, "u1", "Enjoys hiking in the mountains")

	hits, err := e.Search(ctx, "u1", SearchOptions{Query: "guitar"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Plays guitar every weekend", hits[0].Record.Content)

	hits, err = e.Search(ctx, "u1", SearchOptions{Query: "family", SearchTopics: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Brother lives in Porto", hits[0].Record.Content)

	hits, err = e.Search(ctx, "u1", SearchOptions{Query: "hobbies", SearchTopics: true, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = e.Search(ctx, "u1", SearchOptions{Query: "quantum physics"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchTopicsMatchWholeWords(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	job := mustStore(t, e, "u1", "Works as a nurse at the county hospital")
	require.Contains(t, job.Topics, "work")

	hits, err := e.Search(ctx, "u1", SearchOptions{Query: "my home network", SimilarityThreshold: 0.3, SearchTopics: true})
	require.NoError(t, err)
	assert.Empty(t, hits, "a topic hidden inside another word must not match")

	hits, err = e.Search(ctx, "u1", SearchOptions{Query: "anything about my work?", SimilarityThreshold: 0.3, SearchTopics: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, job.ID, hits[0].Record.ID)
	assert.Equal(t, 1.0, hits[0].Score)
}

func TestAddTrimsSurroundingWhitespaceOnly(t *testing.T) {
	e := newTestEngine(t)
	rec := mustStore(t, e, "u1", "  I told him I'd call   back on Monday\n")
	assert.Equal(t, "I told him I'd call   back on Monday", rec.Content)
}

func TestUpdateSkipsItselfInDuplicateCheck(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	rec := mustStore(t, e, "u1", "Works as a pharmacist")
	other := mustStore(t, e, "u1", "Has two cats")

	updated, err := e.Update(ctx, "u1", rec.ID, "works as a pharmacist", nil)
	require.NoError(t, err)
	assert.Equal(t, "works as a pharmacist", updated.Content)
	assert.True(t, updated.LastUpdated.After(rec.LastUpdated))
	assert.Equal(t, SyncPending, updated.SyncState)

	_, err = e.Update(ctx, "u1", rec.ID, "Has two cats", nil)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonExactDuplicate, rejected.Rejection.Reason)
	assert.Equal(t, other.ID, rejected.Rejection.MatchID)

	_, err = e.Update(ctx, "u1", "missing", "anything", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Update(ctx, "u1", rec.ID, " ", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateReclassifiesTopics(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	rec := mustStore(t, e, "u1", "Works at the bakery")
	require.Contains(t, rec.Topics, "work")

	updated, err := e.Update(ctx, "u1", rec.ID, "Daughter starts university in May", nil)
	require.NoError(t, err)
	assert.Contains(t, updated.Topics, "family")
	assert.Contains(t, updated.Topics, "education")
	assert.NotContains(t, updated.Topics, "work")

	updated, err = e.Update(ctx, "u1", rec.ID, "Daughter starts university in May", []string{"milestones"})
	require.NoError(t, err)
	assert.Equal(t, []string{"milestones"}, updated.Topics)
}

func TestDeleteVariants(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	job := mustStore(t, e, "u1", "Works night shifts")
	dad := mustStore(t, e, "u1", "Dad retired last year")
	keep := mustStore(t, e, "u1", "Owns a red bicycle")

	require.NoError(t, e.Delete(ctx, "u1", keep.ID))
	assert.ErrorIs(t, e.Delete(ctx, "u1", keep.ID), ErrNotFound)

	removed, err := e.DeleteByTopic(ctx, "u1", []string{"work", "family"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{job.ID, dad.ID}, removed)

	_, err = e.DeleteByTopic(ctx, "u1", nil)
	assert.ErrorIs(t, err, ErrValidation)

	mustStore(t, e, "u1", "Drinks tea in the morning")
	mustStore(t, e, "u1", "Keeps a journal")
	removed, err = e.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	all, err := e.All(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecentOrdersByLastUpdated(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustStore(t, e, "u1", "Learning Japanese")
	mustStore(t, e, "u1", "Runs on Sundays")
	mustStore(t, e, "u1", "Prefers window seats")

	_, err := e.Update(ctx, "u1", a.ID, "Learning Japanese and Korean", nil)
	require.NoError(t, err)

	recent, err := e.Recent(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, a.ID, recent[0].ID)
	assert.Equal(t, "Prefers window seats", recent[1].Content)
}

func TestConcurrentIdenticalAddsStoreOnce(t *testing.T) {
	e, err := NewEngine(NewInMemoryStore(), Config{}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	const n = 32
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Add(ctx, AddRequest{OwnerID: "u1", Content: "Allergic to peanuts"})
			if err != nil {
				t.Error(err)
				return
			}
			if out.Stored() {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, stored)
	all, err := e.All(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSetSyncStateAndOwners(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	rec := mustStore(t, e, "u2", "Speaks Italian")
	mustStore(t, e, "u1", "Speaks German")

	require.NoError(t, e.SetSyncState(ctx, "u2", rec.ID, SyncSynced))
	got, err := e.Get(ctx, "u2", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncSynced, got.SyncState)

	err = e.SetSyncState(ctx, "u2", "nope", SyncFailed)
	assert.True(t, errors.Is(err, ErrNotFound))

	owners, err := e.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, owners)

	ids, err := e.IDs(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, ids)
}

type failingBackend struct {
	*InMemoryStore
	insertErr error
}

func (f *failingBackend) Insert(ctx context.Context, rec Record) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.InMemoryStore.Insert(ctx, rec)
}

func TestAddSurfacesBackendFailure(t *testing.T) {
	backend := &failingBackend{InMemoryStore: NewInMemoryStore(), insertErr: errors.New("disk full")}
	e, err := NewEngine(backend, Config{}, nil)
	require.NoError(t, err)

	_, err = e.Add(context.Background(), AddRequest{OwnerID: "u1", Content: "Anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	backend.insertErr = ErrDuplicate
	out, err := e.Add(context.Background(), AddRequest{OwnerID: "u1", Content: "Anything"})
	require.NoError(t, err)
	rej, ok := out.Rejection()
	require.True(t, ok)
	assert.Equal(t, ReasonExactDuplicate, rej.Reason)
}
