package validationjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/keylock"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/rediskey"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/dedup"
	"incentive-controlplane/services/kit"
	"incentive-controlplane/services/normalize"
	"incentive-controlplane/services/rule"
	"incentive-controlplane/services/seller"
	"incentive-controlplane/services/submission"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	rowsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_rows_total",
		Help: "Bulk validation rows by outcome and mode.",
	}, []string{"status", "mode"})
	jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_jobs_total",
		Help: "Bulk validation jobs by final status.",
	}, []string{"status"})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{rowsProcessed, jobsFinished}
}

var errCancelled = errors.New("validation job cancelled")

const (
	defaultWorkers   = 4
	defaultBatchSize = 100
)

// Processor runs validation jobs. Rows of a batch are prepared in parallel;
// duplicate resolution and kit progress are applied by a single writer in
// line order, so the summary does not depend on the worker count.
type Processor struct {
	repo        Repository
	campaigns   *campaign.Service
	matcher     *campaign.Matcher
	evaluator   *rule.Evaluator
	normalizer  *normalize.Normalizer
	sellers     seller.Directory
	submissions *submission.Service
	kits        kit.Repository
	locker      keylock.Locker
	logger      *zap.Logger
	tracer      trace.Tracer
	workers     int
	batchSize   int
	now         func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

type ProcessorParams struct {
	fx.In

	Repository  Repository
	Campaigns   *campaign.Service
	Matcher     *campaign.Matcher
	Evaluator   *rule.Evaluator
	Normalizer  *normalize.Normalizer
	Sellers     seller.Directory
	Submissions *submission.Service
	Kits        kit.Repository
	Locker      keylock.Locker
	Config      *config.Config `optional:"true"`
	Logger      *zap.Logger    `optional:"true"`
}

func NewProcessor(p ProcessorParams) *Processor {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	evaluator := p.Evaluator
	if evaluator == nil {
		evaluator = rule.NewEvaluator()
	}
	workers, batchSize := defaultWorkers, defaultBatchSize
	if p.Config != nil {
		if p.Config.Engine.Workers > 0 {
			workers = p.Config.Engine.Workers
		}
		if p.Config.Engine.BatchSize > 0 {
			batchSize = p.Config.Engine.BatchSize
		}
	}
	return &Processor{
		repo:        p.Repository,
		campaigns:   p.Campaigns,
		matcher:     p.Matcher,
		evaluator:   evaluator,
		normalizer:  p.Normalizer,
		sellers:     p.Sellers,
		submissions: p.Submissions,
		kits:        p.Kits,
		locker:      p.Locker,
		logger:      logger,
		tracer:      otel.Tracer("incentive-controlplane/validationjob"),
		workers:     workers,
		batchSize:   batchSize,
		now:         time.Now,
		running:     make(map[string]context.CancelFunc),
	}
}

// plan is a job whose configuration passed every check.
type plan struct {
	job       *ValidationJob
	campaign  *campaign.Campaign
	mapping   normalize.Mapping
	strategy  dedup.Strategy
	opts      normalize.Options
	rules     []rule.ScoringRule
	graceDays int
}

func (pl *plan) mode() string {
	switch {
	case pl.campaign == nil:
		return "validate_only"
	case pl.job.IsDryRun:
		return "dry_run"
	default:
		return "commit"
	}
}

// prepared holds everything about a row that does not depend on other rows.
type prepared struct {
	line      int
	record    rule.Record
	sale      *normalize.Sale
	formatErr error
	match     *campaign.Match
	matchErr  error
	viaGrace  bool
	windowErr error
	userID    string
	sellerErr error
	score     rule.Score
}

type applied struct {
	submissionID string
	completed    bool
}

// sink applies an accepted row. Commit mode persists it, dry run replays it
// on a kit projection.
type sink interface {
	apply(ctx context.Context, pl *plan, pr *prepared, d dedup.Decision) (applied, error)
}

type commitSink struct {
	submissions *submission.Service
}

func (s *commitSink) apply(ctx context.Context, pl *plan, pr *prepared, d dedup.Decision) (applied, error) {
	res, err := s.submissions.Ingest(ctx, submission.IngestInput{
		Campaign:    pl.campaign,
		UserID:      pr.userID,
		Requirement: pr.match.Requirement,
		Sale:        pr.sale,
		Decision:    d,
		JobID:       pl.job.ID,
		ValidatedBy: pl.job.CreatedBy,
	})
	if err != nil {
		return applied{}, err
	}
	return applied{submissionID: res.Submission.ID, completed: res.Outcome.Completed}, nil
}

type simulateSink struct {
	projection *kit.Projection
}

func (s *simulateSink) apply(_ context.Context, _ *plan, pr *prepared, d dedup.Decision) (applied, error) {
	out, err := s.projection.Apply(pr.userID, pr.match.Requirement.ID, d.Delta)
	if err != nil {
		return applied{}, err
	}
	return applied{completed: out.Completed}, nil
}

// Run processes a PENDING job to COMPLETED, FAILED or CANCELLED. A job that
// fails its configuration check ends FAILED with a nil error; storage errors
// end it FAILED and are returned.
func (p *Processor) Run(ctx context.Context, jobID string) (*ValidationJob, error) {
	ctx, span := p.tracer.Start(ctx, "validationjob.Run", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	unlock, err := p.locker.Lock(ctx, rediskey.BuildJobLockKey(jobID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := p.repo.FindByID(ctx, jobID, false)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errutil.NotFound("validation job not found", gorm.ErrRecordNotFound)
	}
	if job.Status != JobStatusPending {
		return nil, errutil.StateError(errutil.ReasonInvalidStateTransition,
			fmt.Sprintf("validation job %s is %s, only PENDING jobs can run", job.ID, job.Status))
	}

	started := p.now().UTC()
	if err := p.repo.TransitionStatus(ctx, job.ID, JobStatusPending, JobStatusProcessing, map[string]any{"started_at": started}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.StateError(errutil.ReasonInvalidStateTransition, "validation job was started concurrently")
		}
		return nil, err
	}
	job.Status = JobStatusProcessing
	job.StartedAt = &started

	runCtx, cancel := context.WithCancel(ctx)
	p.track(job.ID, cancel)
	defer p.untrack(job.ID)
	defer cancel()

	zapLog := logger.WithTrace(ctx, p.logger).With(
		zap.String("job_id", job.ID),
		zap.Bool("dry_run", job.IsDryRun),
	)
	if job.HasCampaign() {
		zapLog = zapLog.With(zap.String("campaign_id", *job.CampaignID))
	}
	zapLog.Info("validation job started", zap.Int("rows", len(job.Rows)))

	summary := Summary{TotalRows: len(job.Rows)}
	pl, err := p.plan(runCtx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "configuration")
		zapLog.Warn("validation job configuration rejected", zap.Error(err))
		out, ferr := p.finish(ctx, job, JobStatusFailed, summary, errutil.MessageOf(err))
		if ferr != nil {
			return nil, ferr
		}
		if isJobConfigError(err) {
			return out, nil
		}
		return out, err
	}
	span.SetAttributes(attribute.String("job.mode", pl.mode()))

	summary, err = p.process(runCtx, pl, zapLog)
	switch {
	case err == nil:
		zapLog.Info("validation job completed",
			zap.Int("validated", summary.ValidatedSales),
			zap.Int("errors", summary.Errors),
			zap.Int("warnings", summary.Warnings),
			zap.Int("skipped", summary.Skipped),
			zap.Int64("points", summary.PointsDistributed))
		return p.finish(ctx, job, JobStatusCompleted, summary, "")

	case errors.Is(err, errCancelled):
		zapLog.Info("validation job cancelled", zap.Int("processed", summary.ProcessedRows))
		return p.finish(ctx, job, JobStatusCancelled, summary,
			fmt.Sprintf("cancelled after %d of %d rows", summary.ProcessedRows, summary.TotalRows))

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		zapLog.Error("validation job failed", zap.Int("processed", summary.ProcessedRows), zap.Error(err))
		out, ferr := p.finish(ctx, job, JobStatusFailed, summary, err.Error())
		if ferr != nil {
			zapLog.Error("failed to mark validation job failed", zap.Error(ferr))
		}
		return out, err
	}
}

// Cancel stops a job running in this process before its next row.
func (p *Processor) Cancel(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

func (p *Processor) track(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.running[jobID] = cancel
	p.mu.Unlock()
}

func (p *Processor) untrack(jobID string) {
	p.mu.Lock()
	delete(p.running, jobID)
	p.mu.Unlock()
}

// isJobConfigError reports errors that end a job FAILED without being a
// processing fault: bad configuration or a campaign that cannot take sales.
func isJobConfigError(err error) bool {
	if errutil.IsKind(err, errutil.KindConfiguration) || errutil.IsKind(err, errutil.KindState) {
		return true
	}
	return errutil.StatusOf(err) == errutil.StatusNotFound
}

func (p *Processor) plan(ctx context.Context, job *ValidationJob) (*plan, error) {
	pl := &plan{
		job:       job,
		mapping:   job.ColumnMapping.Data(),
		graceDays: job.GracePeriodDays,
	}

	if err := pl.mapping.Check(job.HasCampaign()); err != nil {
		return nil, err
	}

	strategy, err := dedup.ParseStrategy(job.DuplicateStrategy)
	if err != nil {
		return nil, errutil.ConfigurationError(errutil.ReasonInvalidRule, err.Error())
	}
	pl.strategy = strategy

	if job.SaleValueMin.Valid {
		v := job.SaleValueMin.Decimal
		pl.opts.Limits.Min = &v
	}
	if job.SaleValueMax.Valid {
		v := job.SaleValueMax.Decimal
		pl.opts.Limits.Max = &v
	}
	if err := pl.opts.Limits.Check(); err != nil {
		return nil, err
	}
	if pl.graceDays < 0 {
		return nil, errutil.ConfigurationError(errutil.ReasonInvalidRule, "grace period cannot be negative")
	}

	if !job.HasCampaign() {
		return pl, nil
	}

	pl.opts.RequireSeller = true
	pl.rules = append(append([]rule.ScoringRule{}, job.CampaignRules...), job.CustomRules...)
	if err := rule.CheckScoringRules(pl.rules); err != nil {
		return nil, err
	}

	c, err := p.campaigns.GetActiveCampaign(ctx, *job.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := campaign.CheckConfig(c); err != nil {
		return nil, err
	}
	pl.campaign = c
	return pl, nil
}

func (p *Processor) process(ctx context.Context, pl *plan, zapLog *zap.Logger) (Summary, error) {
	job := pl.job
	summary := Summary{TotalRows: len(job.Rows)}
	ix := dedup.NewIndex()

	var out sink
	if pl.campaign != nil {
		if job.IsDryRun {
			existing, err := p.kits.ListByCampaign(ctx, pl.campaign.ID)
			if err != nil {
				return summary, err
			}
			out = &simulateSink{projection: kit.NewProjection(pl.campaign, existing)}
		} else {
			unlock, err := p.locker.Lock(ctx, rediskey.BuildCampaignLockKey(pl.campaign.ID))
			if err != nil {
				return summary, err
			}
			defer unlock()
			out = &commitSink{submissions: p.submissions}
		}
	}

	// Results are flushed even when the run stops early; committed rows stay.
	saveCtx := context.WithoutCancel(ctx)
	var pending []ValidationResultRow
	flush := func() error {
		if err := p.repo.SaveProgress(saveCtx, job.ID, summary, pending); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	for start := 0; start < len(job.Rows); start += p.batchSize {
		if err := p.checkCancel(ctx, job.ID); err != nil {
			return summary, errors.Join(err, flush())
		}

		end := min(start+p.batchSize, len(job.Rows))
		batch, err := p.prepare(ctx, pl, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return summary, errors.Join(errCancelled, flush())
			}
			return summary, err
		}
		if pl.campaign != nil {
			if err := p.loadIndex(ctx, pl, ix, batch); err != nil {
				return summary, err
			}
		}

		for _, pr := range batch {
			if ctx.Err() != nil {
				return summary, errors.Join(errCancelled, flush())
			}
			row, err := p.commitRow(ctx, pl, ix, out, pr)
			if err != nil {
				return summary, errors.Join(err, flush())
			}
			summary.add(&row)
			pending = append(pending, row)
			rowsProcessed.WithLabelValues(string(row.Status), pl.mode()).Inc()
		}

		if err := flush(); err != nil {
			return summary, err
		}
		zapLog.Debug("validation batch done", zap.Int("processed", summary.ProcessedRows))
	}
	return summary, nil
}

func (p *Processor) checkCancel(ctx context.Context, jobID string) error {
	if ctx.Err() != nil {
		return errCancelled
	}
	requested, err := p.repo.IsCancelRequested(ctx, jobID)
	if err != nil {
		return err
	}
	if requested {
		return errCancelled
	}
	return nil
}

func (p *Processor) prepare(ctx context.Context, pl *plan, start, end int) ([]*prepared, error) {
	out := make([]*prepared, end-start)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := start; i < end; i++ {
		g.Go(func() error {
			pr, err := p.prepareRow(gctx, pl, i+2, pl.job.Rows[i])
			if err != nil {
				return err
			}
			out[i-start] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Processor) prepareRow(ctx context.Context, pl *plan, line int, raw normalize.Row) (*prepared, error) {
	pr := &prepared{line: line, record: pl.mapping.Apply(raw)}

	sale, err := p.normalizer.Normalize(pr.record, pl.opts)
	if err != nil {
		pr.formatErr = err
		return pr, nil
	}
	pr.sale = sale
	if pl.campaign == nil {
		return pr, nil
	}

	pr.match, pr.matchErr = p.matcher.Match(pl.campaign, sale.Record)
	pr.viaGrace, pr.windowErr = submission.CheckWindow(pl.campaign, sale.SaleDate, pl.graceDays)

	s, err := p.sellers.FindByDocument(ctx, sale.SellerCPF)
	switch {
	case err == nil:
		pr.userID = s.ID
	case errutil.ReasonOf(err) == errutil.ReasonSellerNotFound:
		pr.sellerErr = errutil.RowError(errutil.ReasonSellerNotFound,
			fmt.Sprintf("no seller is registered with CPF %s", sale.SellerCPF))
	default:
		return nil, err
	}

	pr.score = p.evaluator.Score(pl.rules, sale.Record)
	return pr, nil
}

// loadIndex adds stored submissions for order numbers the index has not seen.
func (p *Processor) loadIndex(ctx context.Context, pl *plan, ix *dedup.Index, batch []*prepared) error {
	seen := make(map[string]struct{}, len(batch))
	var keys []string
	for _, pr := range batch {
		if pr.sale == nil {
			continue
		}
		key := dedup.Key(pr.sale.OrderNumber)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := ix.Lookup(key); ok {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}

	entries, err := p.submissions.OrderIndex(ctx, pl.campaign.ID, keys...)
	if err != nil {
		return err
	}
	ix.Load(entries...)
	return nil
}

func (p *Processor) commitRow(ctx context.Context, pl *plan, ix *dedup.Index, out sink, pr *prepared) (ValidationResultRow, error) {
	row := ValidationResultRow{JobID: pl.job.ID, Line: pr.line}
	if pr.sale == nil {
		row.Normalized = datatypes.NewJSONType(pr.record.Map())
		return rowError(row, pr.formatErr), nil
	}
	row.Normalized = datatypes.NewJSONType(pr.sale.Record.Map())
	row.UserID = pr.userID

	candidate := dedup.Entry{
		OrderNumber: pr.sale.OrderNumber,
		UserID:      pr.userID,
		Quantity:    pr.sale.Quantity,
		SaleDate:    pr.sale.SaleDate,
		Line:        pr.line,
	}
	if pr.match != nil {
		candidate.RequirementID = pr.match.Requirement.ID
	}

	d := ix.Resolve(pl.strategy, candidate)
	switch d.Action {
	case dedup.ActionSkip:
		row.Status = RowStatusSkipped
		row.Reason = string(errutil.ReasonDuplicateOrder)
		row.Message = d.Message
		return row, nil
	case dedup.ActionReject:
		return rowError(row, d.Err), nil
	}

	warnings := append([]string{}, pr.sale.Warnings...)
	if pl.campaign == nil {
		ix.Commit(d, candidate, dedup.StatusPending)
		return finishRow(row, d.Message, warnings), nil
	}

	for _, err := range []error{pr.matchErr, pr.windowErr, pr.sellerErr} {
		if err != nil {
			return rowError(row, err), nil
		}
	}

	req := pr.match.Requirement
	row.RequirementID = req.ID
	res, err := out.apply(ctx, pl, pr, d)
	if err != nil {
		if isRowLevel(err) {
			return rowError(row, err), nil
		}
		return row, fmt.Errorf("line %d: %w", pr.line, err)
	}

	candidate.SubmissionID = res.submissionID
	ix.Commit(d, candidate, dedup.StatusValidated)

	if res.submissionID != "" {
		row.SubmissionID = &res.submissionID
	}
	row.KitCompleted = res.completed
	row.PointsAttributed = pr.score.Points
	row.TriggeredRule = pr.score.TriggeredLabel()

	var msgs []string
	if d.Message != "" {
		msgs = append(msgs, d.Message)
	}
	msgs = append(msgs, fmt.Sprintf("%d %s counted toward goal %q", d.Delta, unitLabel(req, d.Delta), goalLabel(req)))
	if res.completed {
		msgs = append(msgs, "kit completed")
	}
	if pr.score.Points > 0 {
		msgs = append(msgs, fmt.Sprintf("%d bonus points from %s", pr.score.Points, row.TriggeredRule))
	}

	warnings = append(warnings, pr.match.Warnings...)
	warnings = append(warnings, pr.score.Warnings...)
	if pr.viaGrace {
		warnings = append(warnings, submission.GraceWarning(pr.sale.SaleDate, pl.graceDays))
	}
	return finishRow(row, strings.Join(msgs, "; "), warnings), nil
}

func finishRow(row ValidationResultRow, msg string, warnings []string) ValidationResultRow {
	row.Status = RowStatusSuccess
	row.Message = msg
	if len(warnings) > 0 {
		row.Status = RowStatusWarning
		if row.Message != "" {
			row.Message += "; "
		}
		row.Message += strings.Join(warnings, "; ")
	}
	return row
}

func rowError(row ValidationResultRow, err error) ValidationResultRow {
	row.Status = RowStatusError
	row.Reason = string(errutil.ReasonOf(err))
	row.Message = errutil.MessageOf(err)
	return row
}

// isRowLevel reports errors that belong to a single row rather than the job.
func isRowLevel(err error) bool {
	return errutil.IsKind(err, errutil.KindRow) ||
		errutil.IsKind(err, errutil.KindState) ||
		errutil.IsKind(err, errutil.KindConflict)
}

func goalLabel(req *campaign.GoalRequirement) string {
	if req.Description != "" {
		return req.Description
	}
	return req.ID
}

func unitLabel(req *campaign.GoalRequirement, qty int64) string {
	unit := "unit"
	if req.UnitType == campaign.UnitTypePair {
		unit = "pair"
	}
	if qty != 1 {
		unit += "s"
	}
	return unit
}

func (p *Processor) finish(ctx context.Context, job *ValidationJob, to JobStatus, summary Summary, reason string) (*ValidationJob, error) {
	ctx = context.WithoutCancel(ctx)
	fields := summaryColumns(summary)
	fields["finished_at"] = p.now().UTC()
	fields["failure_reason"] = reason
	if err := p.repo.TransitionStatus(ctx, job.ID, JobStatusProcessing, to, fields); err != nil {
		return nil, err
	}
	jobsFinished.WithLabelValues(string(to)).Inc()

	out, err := p.repo.FindByID(ctx, job.ID, true)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errutil.NotFound("validation job not found", gorm.ErrRecordNotFound)
	}
	return out, nil
}
