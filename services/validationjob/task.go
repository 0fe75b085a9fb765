package validationjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/task"
	"incentive-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskHandler runs queued validation jobs on the asynq worker.
type TaskHandler struct {
	service *Service
}

func NewTaskHandler(svc *Service) *TaskHandler {
	return &TaskHandler{service: svc}
}

var _ task.Handler = (*TaskHandler)(nil)

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.ValidationJobRun, h.HandleRunTask)
}

func (h *TaskHandler) HandleRunTask(ctx context.Context, t *asynq.Task) error {
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.JobID == "" {
		zap.L().Error("invalid validation job payload", zap.String("task_type", t.Type()), zap.Error(err))
		return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
	}

	zapLog := zap.L().With(zap.String("task_type", t.Type()), zap.String("job_id", payload.JobID))
	zapLog.Info("start validation job task")

	job, err := h.service.Run(ctx, payload.JobID)
	if err != nil {
		// A job that is missing or no longer PENDING will not get better on retry.
		if errutil.IsKind(err, errutil.KindState) || errutil.StatusOf(err) == errutil.StatusNotFound {
			zapLog.Warn("validation job cannot run", zap.Error(err))
			return errors.Join(err, asynq.SkipRetry)
		}
		zapLog.Error("validation job task failed", zap.Error(err))
		if job != nil {
			// Already marked FAILED; a retry would be rejected as not PENDING.
			return errors.Join(err, asynq.SkipRetry)
		}
		return err
	}

	zapLog.Info("finished validation job task",
		zap.String("status", string(job.Status)),
		zap.Int("processed", job.Summary.ProcessedRows))
	return nil
}
