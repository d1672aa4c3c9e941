package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payhuk-core/pkg/task"
	"payhuk-core/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Expirer persists lazy license expiry.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer
	expirer  Expirer

	now func() time.Time
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer
	Expirer  Expirer
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		expirer:  p.Expirer,
		now:      time.Now,
	}
}

// EnqueueLicenseSweep records a job and hands it to the queue. The task id
// is derived from the UTC day, so replicas racing on the same schedule
// enqueue one sweep.
func (s *Service) EnqueueLicenseSweep(ctx context.Context) (*Job, error) {
	job := &Job{
		ID:       s.node.Generate().String(),
		TaskName: taskname.LicenseExpirySweep,
		Status:   JobPending,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(sweepPayload{JobID: job.ID})
	taskID := fmt.Sprintf("%s:%s", taskname.LicenseExpirySweep, s.now().UTC().Format("20060102"))

	_, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.LicenseExpirySweep, payload),
		asynq.TaskID(taskID),
		asynq.Queue(taskname.QueueLow),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Info("[Task] sweep already enqueued today", zap.String("task_id", taskID))
		s.finish(ctx, job.ID, JobSuccess, 0, "duplicate")
		return job, nil
	}
	if err != nil {
		s.finish(ctx, job.ID, JobFailed, 0, err.Error())
		return nil, err
	}

	zap.L().Info("[Task] enqueued license sweep", zap.String("job_id", job.ID), zap.String("task_id", taskID))
	return job, nil
}

// HandleLicenseSweep is the asynq handler of taskname.LicenseExpirySweep.
func (s *Service) HandleLicenseSweep(ctx context.Context, t *asynq.Task) error {
	var p sweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid sweep payload: %v: %w", err, asynq.SkipRetry)
	}

	started := s.now().UTC()
	if p.JobID != "" {
		err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", p.JobID).
			Updates(map[string]any{"status": JobRunning, "started_at": started}).Error
		if err != nil {
			zap.L().Warn("[Task] failed to mark job running", zap.String("job_id", p.JobID), zap.Error(err))
		}
	}

	n, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		s.finish(ctx, p.JobID, JobFailed, 0, err.Error())
		return err
	}

	s.finish(ctx, p.JobID, JobSuccess, n, "")
	zap.L().Info("[Task] license sweep done",
		zap.String("job_id", p.JobID),
		zap.Int64("expired", n),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

func (s *Service) finish(ctx context.Context, jobID string, status JobStatus, affected int64, msg string) {
	if jobID == "" {
		return
	}
	completed := s.now().UTC()
	err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"status":       status,
		"affected":     affected,
		"error_msg":    msg,
		"completed_at": completed,
	}).Error
	if err != nil {
		zap.L().Warn("[Task] failed to update job", zap.String("job_id", jobID), zap.Error(err))
	}
}
