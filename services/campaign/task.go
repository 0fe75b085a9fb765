package campaign

import (
	"context"

	"incentive-controlplane/pkg/task"
	"incentive-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskHandler runs campaign maintenance tasks on the asynq worker.
type TaskHandler struct {
	service *Service
}

func NewTaskHandler(svc *Service) *TaskHandler {
	return &TaskHandler{service: svc}
}

var _ task.Handler = (*TaskHandler)(nil)

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.CampaignExpireOverdue, h.HandleExpireOverdueTask)
}

func (h *TaskHandler) HandleExpireOverdueTask(ctx context.Context, t *asynq.Task) error {
	zapLog := zap.L().With(zap.String("task_type", t.Type()))
	zapLog.Info("start expire overdue campaigns task")

	count, err := h.service.ExpireOverdue(ctx)
	if err != nil {
		zapLog.Error("failed to expire overdue campaigns", zap.Int("expired", count), zap.Error(err))
		return err
	}

	zapLog.Info("finished expire overdue campaigns task", zap.Int("expired", count))
	return nil
}
