package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"payhuk-core/pkg/taskname"
	"payhuk-core/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

type fakeExpirer struct {
	n   int64
	err error
}

func (f *fakeExpirer) ExpireOverdue(ctx context.Context) (int64, error) {
	return f.n, f.err
}

func newTestService(t *testing.T, enq *fakeEnqueuer, exp *fakeExpirer) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Job{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return NewService(Params{DB: db, Node: node, Enqueuer: enq, Expirer: exp})
}

func TestEnqueueAndHandleLicenseSweep(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc := newTestService(t, enq, &fakeExpirer{n: 4})
	ctx := context.Background()

	job, err := svc.EnqueueLicenseSweep(ctx)
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.LicenseExpirySweep, enq.tasks[0].Type())

	var p sweepPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	require.Equal(t, job.ID, p.JobID)

	require.NoError(t, svc.HandleLicenseSweep(ctx, enq.tasks[0]))

	var stored Job
	require.NoError(t, svc.db.Where("id = ?", job.ID).Take(&stored).Error)
	require.Equal(t, JobSuccess, stored.Status)
	require.EqualValues(t, 4, stored.Affected)
	require.NotNil(t, stored.CompletedAt)
}

func TestHandleLicenseSweep_Failure(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc := newTestService(t, enq, &fakeExpirer{err: errors.New("gateway down")})
	ctx := context.Background()

	job, err := svc.EnqueueLicenseSweep(ctx)
	require.NoError(t, err)

	require.Error(t, svc.HandleLicenseSweep(ctx, enq.tasks[0]))

	var stored Job
	require.NoError(t, svc.db.Where("id = ?", job.ID).Take(&stored).Error)
	require.Equal(t, JobFailed, stored.Status)
	require.Equal(t, "gateway down", stored.ErrorMsg)
}

func TestHandleLicenseSweep_JobBookkeepingFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	enq := &fakeEnqueuer{}
	svc := newTestService(t, enq, &fakeExpirer{n: 2})
	ctx := context.Background()

	_, err := svc.EnqueueLicenseSweep(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.db.Migrator().DropTable(&Job{}))

	require.NoError(t, svc.HandleLicenseSweep(ctx, enq.tasks[0]))
	require.Equal(t, 1, logs.FilterMessage("[Task] failed to mark job running").Len())
	require.Equal(t, 1, logs.FilterMessage("[Task] failed to update job").Len())
}

func TestHandleLicenseSweep_BadPayloadSkipsRetry(t *testing.T) {
	svc := newTestService(t, &fakeEnqueuer{}, &fakeExpirer{})
	err := svc.HandleLicenseSweep(context.Background(), asynq.NewTask(taskname.LicenseExpirySweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEnqueueLicenseSweep_DuplicateIsNotAnError(t *testing.T) {
	svc := newTestService(t, &fakeEnqueuer{err: asynq.ErrTaskIDConflict}, &fakeExpirer{})
	job, err := svc.EnqueueLicenseSweep(context.Background())
	require.NoError(t, err)

	var stored Job
	require.NoError(t, svc.db.Where("id = ?", job.ID).Take(&stored).Error)
	require.Equal(t, JobSuccess, stored.Status)
}

func TestNextRunTime(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2025, 3, 1, h, m, 0, 0, time.UTC) }

	require.Equal(t, at(1, 0), nextRunTime(at(0, 30), 1, 0))
	require.Equal(t, at(1, 0).AddDate(0, 0, 1), nextRunTime(at(1, 0), 1, 0))
	require.Equal(t, at(1, 0).AddDate(0, 0, 1), nextRunTime(at(13, 0), 1, 0))
}
