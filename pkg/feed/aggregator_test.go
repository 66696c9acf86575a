package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lost-found-portal/pkg/models"
	"lost-found-portal/pkg/store"
	"lost-found-portal/pkg/validation"
)

func newRepo(t *testing.T) (*store.ReportRepository, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return store.NewReportRepository(mem, nil), mem
}

func submit(t *testing.T, repo *store.ReportRepository, name, category string) models.Report {
	t.Helper()
	r, err := repo.Create(context.Background(), validation.Form{
		Name:        name,
		Description: "Left behind after the lecture",
		Location:    "Room 101",
		Contact:     "owner@college.edu",
		Category:    category,
	}, models.Identity{UserID: "u1", Email: "owner@college.edu"})
	require.NoError(t, err)
	return r
}

func TestAggregatorFollowsStore(t *testing.T) {
	repo, _ := newRepo(t)
	submit(t, repo, "Black Bag", "lost")

	metrics := NewMetrics(prometheus.NewRegistry())
	agg := NewAggregator(repo, nil, WithMetrics(metrics))
	require.NoError(t, agg.Start(context.Background()))
	defer agg.Close()

	require.Eventually(t, func() bool { return agg.View().Loaded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, agg.View().Stats.Lost)

	found := submit(t, repo, "Wallet", "found")
	require.Eventually(t, func() bool { return agg.View().Stats.Total == 2 }, time.Second, 5*time.Millisecond)

	got, ok := agg.Lookup(found.ID)
	require.True(t, ok)
	assert.Equal(t, "Wallet", got.Name)

	view, err := agg.SetQuery(context.Background(), Query{Search: "bag", Filter: FilterLost})
	require.NoError(t, err)
	assert.Equal(t, view, agg.View())
	require.Len(t, view.Feed, 1)
	assert.Equal(t, "Black Bag", view.Feed[0].Name)
	assert.Equal(t, 2, view.Stats.Total)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reports.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reports.WithLabelValues("lost")))
}

func TestPatchIsVisibleBeforeRedelivery(t *testing.T) {
	repo, _ := newRepo(t)
	r := submit(t, repo, "Keys", "lost")

	agg := NewAggregator(repo, nil)
	require.NoError(t, agg.Start(context.Background()))
	defer agg.Close()
	require.Eventually(t, func() bool { _, ok := agg.Lookup(r.ID); return ok }, time.Second, 5*time.Millisecond)

	require.NoError(t, agg.Patch(context.Background(), r.ID, models.StatusResolved))
	got, _ := agg.Lookup(r.ID)
	assert.Equal(t, models.StatusResolved, got.Status)

	require.NoError(t, repo.SetStatus(context.Background(), r.ID, models.StatusResolved))
	assert.Never(t, func() bool {
		got, _ := agg.Lookup(r.ID)
		return got.Status != models.StatusResolved
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestClosedAggregatorIgnoresSnapshots(t *testing.T) {
	repo, _ := newRepo(t)
	submit(t, repo, "Scarf", "lost")

	agg := NewAggregator(repo, nil)
	var mu sync.Mutex
	changes := 0
	agg.OnChange(func(State) {
		mu.Lock()
		changes++
		mu.Unlock()
	})
	require.NoError(t, agg.Start(context.Background()))
	require.Eventually(t, func() bool { return agg.View().Loaded }, time.Second, 5*time.Millisecond)

	agg.Close()
	<-agg.Done()
	mu.Lock()
	before := changes
	mu.Unlock()

	submit(t, repo, "Gloves", "found")
	assert.Equal(t, 1, agg.View().Stats.Total)
	mu.Lock()
	assert.Equal(t, before, changes)
	mu.Unlock()

	_, err := agg.SetQuery(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAggregatorClosesWithContext(t *testing.T) {
	repo, _ := newRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	agg := NewAggregator(repo, nil)
	require.NoError(t, agg.Start(ctx))

	cancel()
	select {
	case <-agg.Done():
	case <-time.After(time.Second):
		t.Fatal("loop still running")
	}
}

type failingSource struct{}

func (failingSource) Subscribe(func([]models.Report)) (store.Unsubscribe, error) {
	return nil, errors.New("offline")
}

func TestStartFailsWhenSubscribeFails(t *testing.T) {
	agg := NewAggregator(failingSource{}, nil)
	assert.Error(t, agg.Start(context.Background()))
	<-agg.Done()
}

func TestSetQueryReturnsItsOwnView(t *testing.T) {
	repo, _ := newRepo(t)
	for i := 0; i < 4; i++ {
		submit(t, repo, fmt.Sprintf("Item %d", i), "lost")
	}

	agg := NewAggregator(repo, nil)
	require.NoError(t, agg.Start(context.Background()))
	defer agg.Close()
	require.Eventually(t, func() bool { return agg.View().Loaded }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	var mu sync.Mutex
	mismatches := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			q := Query{Search: fmt.Sprintf("item %d", g%4), Filter: FilterLost}
			for i := 0; i < 200; i++ {
				view, err := agg.SetQuery(context.Background(), q)
				if err != nil || view.Query != q || len(view.Feed) != 1 {
					mu.Lock()
					mismatches++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Zero(t, mismatches)
}

type countingSource struct {
	mu           sync.Mutex
	subscribed   int
	unsubscribed int
}

func (c *countingSource) Subscribe(func([]models.Report)) (store.Unsubscribe, error) {
	c.mu.Lock()
	c.subscribed++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.unsubscribed++
		c.mu.Unlock()
	}, nil
}

func TestStartAfterCloseReleasesSubscription(t *testing.T) {
	src := &countingSource{}
	agg := NewAggregator(src, nil)
	agg.Close()

	assert.ErrorIs(t, agg.Start(context.Background()), ErrClosed)
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, src.subscribed, src.unsubscribed)
}
