package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"lost-found-portal/pkg/models"
	"lost-found-portal/pkg/validation"
)

var reporter = models.Identity{UserID: "u-1", Email: "student@college.edu"}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newRepo(t *testing.T) (*ReportRepository, *Memory) {
	t.Helper()
	mem := NewMemory()
	clock := &stepClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewReportRepository(mem, nil, WithClock(clock.Now)), mem
}

func form(name, category string) validation.Form {
	return validation.Form{
		Name:        name,
		Description: "Found near the main staircase",
		Location:    "Block A",
		Contact:     "finder@college.edu",
		Category:    category,
	}
}

func TestCreateAssignsServerFields(t *testing.T) {
	repo, _ := newRepo(t)

	rep, err := repo.Create(context.Background(), form("Blue Bag", "lost"), reporter)
	require.NoError(t, err)

	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, models.StatusPending, rep.Status)
	assert.Equal(t, reporter.Email, rep.ReportBy)
	assert.Equal(t, models.CategoryLost, rep.Category)
	assert.False(t, rep.CreatedAt.IsZero())

	all, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rep.ID, all[0].ID)
	assert.True(t, rep.CreatedAt.Equal(all[0].CreatedAt))
}

func TestCreateWriteError(t *testing.T) {
	repo, mem := newRepo(t)
	denied := errors.New("permission denied")
	mem.FailWrites(denied)

	_, err := repo.Create(context.Background(), form("Blue Bag", "lost"), reporter)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.ErrorIs(t, err, denied)

	mem.FailWrites(nil)
	all, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateRejectsUnknownCategory(t *testing.T) {
	repo, _ := newRepo(t)

	_, err := repo.Create(context.Background(), form("Blue Bag", "stolen"), reporter)

	var werr *WriteError
	assert.ErrorAs(t, err, &werr)
}

func TestSubscribeDeliversNewestFirst(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	var mu sync.Mutex
	var deliveries [][]models.Report
	unsub, err := repo.Subscribe(func(r []models.Report) {
		mu.Lock()
		defer mu.Unlock()
		deliveries = append(deliveries, r)
	})
	require.NoError(t, err)
	defer unsub()

	first, err := repo.Create(ctx, form("Umbrella", "found"), reporter)
	require.NoError(t, err)
	second, err := repo.Create(ctx, form("Calculator", "lost"), reporter)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deliveries, 3)
	assert.Empty(t, deliveries[0])
	require.Len(t, deliveries[2], 2)
	assert.Equal(t, second.ID, deliveries[2][0].ID)
	assert.Equal(t, first.ID, deliveries[2][1].ID)
}

func TestSetStatus(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	rep, err := repo.Create(ctx, form("Keys", "found"), reporter)
	require.NoError(t, err)

	require.NoError(t, repo.SetStatus(ctx, rep.ID, models.StatusResolved))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusResolved, all[0].Status)
	assert.Equal(t, "Keys", all[0].Name)
}

func TestSetStatusMissingReport(t *testing.T) {
	repo, _ := newRepo(t)

	err := repo.SetStatus(context.Background(), "nope", models.StatusResolved)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "nope", werr.ID)
	assert.True(t, IsNotFound(err))
}

func TestDecodeSkipsForeignDocuments(t *testing.T) {
	repo, mem := newRepo(t)
	ctx := context.Background()

	_, err := mem.AddDocument(ctx, ReportsCollection, bson.M{"name": "Odd", "category": "misc", "created_at": time.Now()})
	require.NoError(t, err)
	_, err = repo.Create(ctx, form("Wallet", "lost"), reporter)
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Wallet", all[0].Name)
}
