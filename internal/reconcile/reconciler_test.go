package reconcile_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/reconcile"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
)

// MockStore implements reconcile.Store for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Retrieve(ctx context.Context, res uuid.UUID, from, to time.Time) ([]model.Period, error) {
	args := m.Called(ctx, res, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Period), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, e model.TimeEntry) (string, error) {
	args := m.Called(ctx, e)
	return args.String(0), args.Error(1)
}

func TestExecuteCreatesSiblingsInOrder(t *testing.T) {
	store := new(MockStore)
	store.On("Retrieve", mock.Anything, resource, mock.Anything, mock.Anything).
		Return([]model.Period{}, nil).Once()

	var order []string
	store.On("Create", mock.Anything, mock.AnythingOfType("model.TimeEntry")).
		Run(func(args mock.Arguments) {
			e := args.Get(1).(model.TimeEntry)
			order = append(order, timecalc.DayKey(e.Start))
		}).
		Return("new-id", nil)

	c := candidate(t, "2010-06-30T05:00:00Z", "2010-07-03T05:00:00Z")
	r := reconcile.New(store)
	res, err := r.Execute(context.Background(), &c)
	require.NoError(t, err)

	assert.Equal(t, []string{"2010-07-01", "2010-07-02", "2010-07-03"}, order)
	assert.Equal(t, []string{"new-id", "new-id", "new-id"}, res.Created)
	assert.True(t, res.Queried)
	assert.Empty(t, res.CandidateID)

	assert.Equal(t, "2010-06-30", timecalc.DayKey(c.Start))
	assert.True(t, c.Start.Equal(c.End))
	assert.Zero(t, c.Duration)
	store.AssertExpectations(t)
}

func TestExecuteSameDaySkipsStore(t *testing.T) {
	store := new(MockStore)
	c := candidate(t, "2010-06-30T05:00:00Z", "2010-06-30T18:00:00Z")

	res, err := reconcile.New(store).Execute(context.Background(), &c)
	require.NoError(t, err)
	assert.False(t, res.Queried)
	assert.Empty(t, res.Created)
	assert.True(t, c.Start.Equal(ts(t, "2010-06-30T00:00:00Z")))

	store.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestExecuteAllDatesOccupied(t *testing.T) {
	store := new(MockStore)
	store.On("Retrieve", mock.Anything, resource, mock.Anything, mock.Anything).
		Return([]model.Period{
			{Start: ts(t, "2010-06-30T05:00:00Z"), End: ts(t, "2010-07-02T05:00:00Z")},
		}, nil)

	c := candidate(t, "2010-06-30T05:00:00Z", "2010-07-02T05:00:00Z")
	before := c

	_, err := reconcile.New(store).Execute(context.Background(), &c)
	require.ErrorIs(t, err, reconcile.ErrAllDatesOccupied)
	assert.Equal(t, before, c, "candidate must not be mutated")
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestExecutePartialFailure(t *testing.T) {
	store := new(MockStore)
	store.On("Retrieve", mock.Anything, resource, mock.Anything, mock.Anything).
		Return(nil, nil)

	denied := errors.New("403 forbidden")
	store.On("Create", mock.Anything, mock.MatchedBy(func(e model.TimeEntry) bool {
		return timecalc.DayKey(e.Start) == "2010-07-01"
	})).Return("id-0701", nil).Once()
	store.On("Create", mock.Anything, mock.MatchedBy(func(e model.TimeEntry) bool {
		return timecalc.DayKey(e.Start) == "2010-07-02"
	})).Return("", denied).Once()

	c := candidate(t, "2010-06-30T05:00:00Z", "2010-07-03T05:00:00Z")
	res, err := reconcile.New(store).Execute(context.Background(), &c)

	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrStore)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, []string{"id-0701"}, res.Created, "created siblings are reported, not rolled back")

	var serr *reconcile.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "create", serr.Op)
	store.AssertNumberOfCalls(t, "Create", 2)
}

func TestExecuteRetrieveFailure(t *testing.T) {
	store := new(MockStore)
	store.On("Retrieve", mock.Anything, resource, mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded)

	c := candidate(t, "2010-06-30T05:00:00Z", "2010-07-02T05:00:00Z")
	_, err := reconcile.New(store).Execute(context.Background(), &c)
	assert.ErrorIs(t, err, reconcile.ErrStore)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, strings.HasPrefix(err.Error(), reconcile.ErrStore.Error()))
}

func TestExecuteNil(t *testing.T) {
	_, err := reconcile.New(new(MockStore)).Execute(context.Background(), nil)
	assert.Error(t, err)
}

func TestExecuteTraces(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	store := new(MockStore)
	store.On("Retrieve", mock.Anything, resource, mock.Anything, mock.Anything).Return(nil, nil)
	store.On("Create", mock.Anything, mock.Anything).Return("x", nil)

	c := candidate(t, "2010-06-30T05:00:00Z", "2010-07-02T05:00:00Z")
	_, err := reconcile.New(store, reconcile.WithLogger(logger)).Execute(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(buf.String(), "Creating a Time Entry."))
}

func TestCommitCreatesCandidateLast(t *testing.T) {
	store := new(MockStore)
	store.On("Retrieve", mock.Anything, resource, mock.Anything, mock.Anything).Return(nil, nil)

	var order []string
	store.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			order = append(order, timecalc.DayKey(args.Get(1).(model.TimeEntry).Start))
		}).
		Return("id", nil)

	c := candidate(t, "2010-06-30T05:00:00Z", "2010-07-01T05:00:00Z")
	res, err := reconcile.New(store).Commit(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, []string{"2010-07-01", "2010-06-30"}, order)
	assert.Equal(t, "id", res.CandidateID)
	assert.Equal(t, "id", c.ID)
}

// memStore is a minimal in-memory store with a slow Retrieve, so that
// unserialized callers would both see the same days as free.
type memStore struct {
	mu      sync.Mutex
	entries []model.TimeEntry
	seq     int
}

func (s *memStore) Retrieve(_ context.Context, res uuid.UUID, from, to time.Time) ([]model.Period, error) {
	time.Sleep(5 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, hi := timecalc.StartOfDay(from), timecalc.LastInstant(to)
	var out []model.Period
	for _, e := range s.entries {
		if e.ResourceRef == res && !e.Start.Before(lo) && !e.End.After(hi) {
			out = append(out, model.Period{Start: e.Start, End: e.End})
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, e model.TimeEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.ID = string(rune('a' + s.seq))
	s.entries = append(s.entries, e)
	return e.ID, nil
}

func TestCommitSerializesSameResource(t *testing.T) {
	store := &memStore{}
	r := reconcile.New(store)

	const workers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		occupied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := candidate(t, "2010-06-30T05:00:00Z", "2010-07-02T05:00:00Z")
			_, err := r.Commit(context.Background(), &c)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, reconcile.ErrAllDatesOccupied):
				occupied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, occupied)

	seen := make(map[string]int)
	for _, e := range store.entries {
		seen[timecalc.DayKey(e.Start)]++
	}
	assert.Equal(t, map[string]int{"2010-06-30": 1, "2010-07-01": 1, "2010-07-02": 1}, seen)
}
