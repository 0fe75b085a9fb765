package validationjob

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/taskname"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/dedup"
	"incentive-controlplane/services/rule"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: "task", Queue: "default", Type: t.Type()}, nil
}

type fakeArchive struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeArchive) Put(ctx context.Context, key string, content []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.types = map[string]string{}
	}
	f.objects[key] = content
	f.types[key] = contentType
	return nil
}

func TestCreateJob_Defaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	c := h.kitA(t)

	cfg := &config.Config{}
	cfg.Engine.DefaultStrategy = "ignore"
	cfg.Engine.GracePeriodDays = 7
	svc := NewService(ServiceParams{Repository: h.repo, Processor: h.processor, Campaigns: h.campaigns, Config: cfg})

	job, err := svc.CreateJob(ctx, CreateJobInput{
		FileName:      "march.xlsx",
		CampaignID:    c.ID,
		ColumnMapping: map[string]string{"Pedido": "order number", "Loja": "store"},
		SaleValueMin:  "R$ 10,00",
		Rows:          []map[string]string{{"Pedido": "1"}, {"Pedido": "2"}},
	})
	require.NoError(t, err)
	require.Equal(t, JobStatusPending, job.Status)
	require.Equal(t, string(dedup.StrategyIgnore), job.DuplicateStrategy)
	require.Equal(t, 7, job.GracePeriodDays)
	require.Equal(t, 2, job.Summary.TotalRows)
	require.True(t, job.SaleValueMin.Valid)
	require.Equal(t, "10", job.SaleValueMin.Decimal.String())
	require.False(t, job.SaleValueMax.Valid)
	require.Equal(t, rule.FieldOrderNumber, job.ColumnMapping.Data()["Pedido"])
	require.Equal(t, rule.TargetField("STORE"), job.ColumnMapping.Data()["Loja"])

	stored, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, stored.Rows, 2)
	require.Equal(t, "2", stored.Rows[1]["Pedido"])
	require.Equal(t, c.ID, *stored.CampaignID)

	zero := 0
	job, err = svc.CreateJob(ctx, CreateJobInput{
		GracePeriodDays:   &zero,
		DuplicateStrategy: "merge",
		Rows:              []map[string]string{{"ORDER_NUMBER": "1"}},
	})
	require.NoError(t, err)
	require.Equal(t, "MERGE", job.DuplicateStrategy)
	require.Zero(t, job.GracePeriodDays)
	require.False(t, job.HasCampaign())
}

func TestCreateJob_CopiesCampaignRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	c, err := h.campaigns.CreateCampaign(ctx, campaign.CreateCampaignInput{
		Title:     "Kit B",
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Requirements: []campaign.RequirementInput{
			{Description: "Any lens", TargetQuantity: 1, Conditions: []campaign.ConditionInput{
				{Field: rule.FieldProductName, Operator: rule.OpIsNotEmpty},
			}},
		},
		ScoringRules: []rule.ScoringRule{{ID: "r1", Expression: "true", Points: 5}},
	})
	require.NoError(t, err)

	job, err := h.service.CreateJob(ctx, CreateJobInput{CampaignID: c.ID, Rows: []map[string]string{{"ORDER_NUMBER": "1"}}})
	require.NoError(t, err)
	require.Len(t, job.CampaignRules, 1)
	require.Equal(t, "r1", job.CampaignRules[0].ID)

	job, err = h.service.CreateJob(ctx, CreateJobInput{
		CampaignID:    c.ID,
		CampaignRules: []rule.ScoringRule{},
		Rows:          []map[string]string{{"ORDER_NUMBER": "1"}},
	})
	require.NoError(t, err)
	require.Empty(t, job.CampaignRules)
}

func TestCreateJob_Rejects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)

	_, err := h.service.CreateJob(ctx, CreateJobInput{})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = h.service.CreateJob(ctx, CreateJobInput{
		SaleValueMin: "100",
		SaleValueMax: "10",
		Rows:         []map[string]string{{"ORDER_NUMBER": "1"}},
	})
	require.True(t, errutil.IsKind(err, errutil.KindConfiguration))

	_, err = h.service.CreateJob(ctx, CreateJobInput{
		SaleValueMax: "lots",
		Rows:         []map[string]string{{"ORDER_NUMBER": "1"}},
	})
	require.Equal(t, errutil.ReasonInvalidRule, errutil.ReasonOf(err))

	_, err = h.service.CreateJob(ctx, CreateJobInput{
		CampaignID: "missing",
		Rows:       []map[string]string{{"ORDER_NUMBER": "1"}},
	})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestCreateJobFromSheet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)

	content := []byte("Pedido;Data;Valor\nA-1;05/03/2026;\"1.250,00\"\nA-2;06/03/2026;99\n")
	job, err := h.service.CreateJobFromSheet(ctx, CreateJobInput{
		FileName:      "vendas.csv",
		ColumnMapping: map[string]string{"Pedido": "ORDER_NUMBER", "Data": "SALE_DATE", "Valor": "SALE_VALUE"},
	}, content)
	require.NoError(t, err)
	require.Len(t, job.Rows, 2)

	out, err := h.service.Run(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobStatusCompleted, out.Status)
	require.Equal(t, 2, out.Summary.ValidatedSales)
	require.Equal(t, "1250.00", out.Results[0].Normalized.Data()["SALE_VALUE"])

	_, err = h.service.CreateJobFromSheet(ctx, CreateJobInput{FileName: "vendas.pdf"}, content)
	require.Equal(t, errutil.StatusUnsupportedMediaType, errutil.StatusOf(err))
}

func TestCreateJobFromSheet_Archive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	archive := &fakeArchive{}
	svc := NewService(ServiceParams{Repository: h.repo, Processor: h.processor, Campaigns: h.campaigns, Archive: archive})
	svc.now = func() time.Time { return time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC) }

	content := []byte("ORDER_NUMBER,SALE_DATE\nA-1,2026-03-05\n")
	job, err := svc.CreateJobFromSheet(ctx, CreateJobInput{FileName: "exports/Vendas Março.CSV"}, content)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(job.SourceKey, "uploads/2026/03/09/"))
	require.True(t, strings.HasSuffix(job.SourceKey, "-vendas-marco.csv"))
	require.Equal(t, content, archive.objects[job.SourceKey])
	require.Equal(t, "text/csv", archive.types[job.SourceKey])

	stored, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.SourceKey, stored.SourceKey)

	archive.err = errors.New("bucket unavailable")
	_, err = svc.CreateJobFromSheet(ctx, CreateJobInput{FileName: "vendas.csv"}, content)
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)

	err := h.service.Enqueue(ctx, "job-1")
	require.Error(t, err)

	q := &fakeEnqueuer{}
	svc := NewService(ServiceParams{Repository: h.repo, Processor: h.processor, Campaigns: h.campaigns, Enqueuer: q})
	require.NoError(t, svc.Enqueue(ctx, "job-1"))
	require.Len(t, q.tasks, 1)
	require.Equal(t, taskname.ValidationJobRun, q.tasks[0].Type())

	var payload RunPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	require.Equal(t, "job-1", payload.JobID)

	q.err = asynq.ErrTaskIDConflict
	err = svc.Enqueue(ctx, "job-1")
	require.True(t, errutil.IsKind(err, errutil.KindState))
}

func TestTaskHandler_HandleRunTask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	handler := NewTaskHandler(h.service)

	err := handler.HandleRunTask(ctx, asynq.NewTask(taskname.ValidationJobRun, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))

	job, err := h.service.CreateJob(ctx, CreateJobInput{Rows: []map[string]string{{"ORDER_NUMBER": "A-1", "SALE_DATE": "2026-03-05"}}})
	require.NoError(t, err)

	payload, err := json.Marshal(RunPayload{JobID: job.ID})
	require.NoError(t, err)
	require.NoError(t, handler.HandleRunTask(ctx, asynq.NewTask(taskname.ValidationJobRun, payload)))

	done, err := h.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobStatusCompleted, done.Status)

	// A second delivery finds the job finished and is not retried.
	err = handler.HandleRunTask(ctx, asynq.NewTask(taskname.ValidationJobRun, payload))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
