package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) JobRepository {
	t.Helper()
	repo, closeFn, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, closeFn())
	})
	return repo
}

func sampleJob(key string, typ _const.MeasurementType) *probe.Job {
	return &probe.Job{
		Key:                key,
		Type:               typ,
		UserName:           "alice",
		Target:             key + ".example.com",
		Priority:           _const.PriorityHigh,
		Params:             map[string]string{"target": key + ".example.com", "count": "4"},
		StartTime:          t0,
		EndTime:            t0.Add(24 * time.Hour),
		RecurrenceInterval: 5 * time.Minute,
		Status:             _const.JobStatusWaiting,
		CreatedAt:          t0.Add(-time.Minute),
	}
}

func assertSameJob(t *testing.T, want, got *probe.Job) {
	t.Helper()
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.UserName, got.UserName)
	assert.Equal(t, want.Target, got.Target)
	assert.Equal(t, want.Priority, got.Priority)
	assert.Equal(t, want.Params, got.Params)
	assert.True(t, want.StartTime.Equal(got.StartTime), "start %s != %s", want.StartTime, got.StartTime)
	assert.True(t, want.EndTime.Equal(got.EndTime), "end %s != %s", want.EndTime, got.EndTime)
	assert.Equal(t, want.EndTime.IsZero(), got.EndTime.IsZero())
	assert.Equal(t, want.RecurrenceInterval, got.RecurrenceInterval)
	assert.True(t, want.LastExecutedAt.Equal(got.LastExecutedAt))
	assert.Equal(t, want.LastExecutedAt.IsZero(), got.LastExecutedAt.IsZero())
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Cycle, got.Cycle)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestJobRepositoryUpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)

	a := sampleJob("a", _const.PING)
	b := sampleJob("b", _const.DNS)
	b.EndTime = time.Time{}
	b.Params = nil
	require.NoError(t, repo.UpsertJob(ctx, a))
	require.NoError(t, repo.UpsertJob(ctx, b))

	jobs, err := repo.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assertSameJob(t, a, jobs[0])
	assertSameJob(t, b, jobs[1])
}

func TestJobRepositoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)

	job := sampleJob("a", _const.PING)
	require.NoError(t, repo.UpsertJob(ctx, job))
	require.NoError(t, repo.UpsertJob(ctx, job))

	job.MarkDispatched(t0.Add(time.Minute))
	job.Reset(t0.Add(6 * time.Minute))
	require.NoError(t, repo.UpsertJob(ctx, job))

	jobs, err := repo.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assertSameJob(t, job, jobs[0])
	assert.Equal(t, 1, jobs[0].Cycle)
}

func TestJobRepositoryListByType(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)
	for _, job := range []*probe.Job{
		sampleJob("p1", _const.PING),
		sampleJob("d1", _const.DNS),
		sampleJob("p2", _const.PING),
	} {
		require.NoError(t, repo.UpsertJob(ctx, job))
	}

	pings, err := repo.ListByType(ctx, _const.PING)
	require.NoError(t, err)
	require.Len(t, pings, 2)
	assert.Equal(t, "p1", pings[0].Key)
	assert.Equal(t, "p2", pings[1].Key)

	traces, err := repo.ListByType(ctx, _const.TRACEROUTE)
	require.NoError(t, err)
	assert.Empty(t, traces)
}

func TestJobRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)
	require.NoError(t, repo.UpsertJob(ctx, sampleJob("a", _const.PING)))

	require.NoError(t, repo.DeleteJob(ctx, "a"))
	assert.ErrorIs(t, repo.DeleteJob(ctx, "a"), probe.ErrJobNotFound)

	jobs, err := repo.LoadJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), "mongo", "")
	assert.Error(t, err)
}

func TestRepositoryFeedsRegistry(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)
	require.NoError(t, repo.UpsertJob(ctx, sampleJob("a", _const.PING)))
	require.NoError(t, repo.UpsertJob(ctx, sampleJob("b", _const.TCP)))

	jobs, err := repo.LoadJobs(ctx)
	require.NoError(t, err)

	registry := probe.NewJobRegistry()
	require.NoError(t, registry.Load(ctx, jobs))
	snapshot, err := registry.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}

func TestOpenSQLiteClosesOnMigrateFailure(t *testing.T) {
	var opened *gorm.DB
	_, err := openGormSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.db"),
		func(_ context.Context, db *gorm.DB) error {
			opened = db
			return errors.New("disk full")
		})
	require.Error(t, err)
	require.NotNil(t, opened)

	sqlDB, err := opened.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.PingContext(context.Background()))
}
