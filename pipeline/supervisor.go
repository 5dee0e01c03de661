package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/kbukum/stagekit/errors"
	"github.com/kbukum/stagekit/logger"
	"github.com/kbukum/stagekit/observability"
)

// task is one independently running unit of a run: the source feeder or a
// stage.
type task struct {
	state *stageState
	run   func(ctx context.Context) settlement
	in    interface{ Abandon() }
	out   interface{ Close() }
}

// run owns every channel and task of one pipeline execution.
type run struct {
	id       string
	name     string
	log      *logger.Logger
	metrics  *observability.StageMetrics
	observer Observer

	ctx    context.Context
	cancel context.CancelCauseFunc

	tasks []*task
	errs  []error

	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	status   RunStatus
	finished time.Time
	result   Result
}

func newRun(o runOptions) *run {
	r := &run{
		id:       uuid.NewString(),
		name:     o.name,
		metrics:  o.metrics,
		observer: o.observer,
		done:     make(chan struct{}),
		status:   RunRunning,
	}
	log := o.log
	if log == nil {
		log = logger.Get("pipeline")
	}
	r.log = log.WithFields(map[string]any{
		logger.FieldRunID:    r.id,
		logger.FieldPipeline: r.name,
	})
	return r
}

func (r *run) nextIndex() int { return len(r.tasks) }

func (r *run) newState(name string, policy Policy) *stageState {
	idx := r.nextIndex()
	return &stageState{
		name:   name,
		index:  idx,
		policy: policy,
		log: r.log.WithFields(map[string]any{
			logger.FieldStage:    name,
			logger.FieldStageIdx: idx,
			logger.FieldPolicy:   policy.String(),
		}),
		rec: r.metrics.Stage(r.name, name),
	}
}

func (r *run) add(state *stageState, fn func(context.Context) settlement, in interface{ Abandon() }, out interface{ Close() }) {
	r.tasks = append(r.tasks, &task{state: state, run: fn, in: in, out: out})
}

// invalid records a configuration error found while wiring.
func (r *run) invalid(stage string, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		err = appErr.WithDetail("stage", stage)
	}
	r.errs = append(r.errs, err)
}

func (r *run) configError() error {
	if len(r.errs) == 0 {
		return nil
	}
	if len(r.errs) == 1 {
		return r.errs[0]
	}
	msgs := make([]string, len(r.errs))
	for i, err := range r.errs {
		msgs[i] = err.Error()
	}
	return apperrors.InvalidConfig("stages", "multiple stages are misconfigured").
		WithCause(r.errs[0]).
		WithDetail("errors", msgs)
}

// start launches every task. Callers must have checked configError first.
func (r *run) start(parent context.Context) {
	r.ctx, r.cancel = context.WithCancelCause(parent)
	r.started = time.Now()

	ctx, span := observability.StartSpan(r.ctx, observability.SpanPipelineRun)
	observability.SetSpanAttribute(ctx, observability.AttrPipeline, r.name)
	observability.SetSpanAttribute(ctx, observability.AttrRunID, r.id)

	r.log.Debug("run started", logger.Fields("stages", len(r.tasks)-1))
	r.notify(Event{Type: EventRunStarted, Status: RunRunning})

	outcomes := make([]Outcome, len(r.tasks))
	var g errgroup.Group
	for i, t := range r.tasks {
		g.Go(func() error {
			outcomes[i] = r.supervise(ctx, t)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		r.finish(ctx, span, outcomes)
	}()
}

// supervise runs one task to completion and releases its channels: the
// input is abandoned so upstream stops producing, the output is closed so
// downstream sees end-of-stream.
func (r *run) supervise(ctx context.Context, t *task) Outcome {
	s := t.state
	ctx, span := observability.StartSpan(ctx, observability.SpanPipelineStage)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrStage, s.name)
	observability.SetSpanAttribute(ctx, observability.AttrStageIndex, s.index)
	observability.SetSpanAttribute(ctx, observability.AttrPolicy, s.policy.String())
	observability.SetSpanAttribute(ctx, observability.AttrConcurrency, s.policy.Concurrency())

	s.log.Debug("stage started")
	start := time.Now()
	res := t.run(ctx)

	if t.in != nil {
		t.in.Abandon()
	}
	t.out.Close()

	o := Outcome{
		Stage:    s.name,
		Index:    s.index,
		Policy:   s.policy,
		Status:   StatusCompleted,
		Received: s.received.Load(),
		Emitted:  s.emitted.Load(),
		Detached: res.detached,
		Canceled: res.canceled,
		Duration: time.Since(start),
	}
	if res.err != nil {
		o.Status = StatusFailed
		o.Err = res.err
	}
	s.settle(o)

	observability.SetSpanAttribute(ctx, observability.AttrReceived, o.Received)
	observability.SetSpanAttribute(ctx, observability.AttrEmitted, o.Emitted)
	observability.SetSpanAttribute(ctx, observability.AttrStatus, o.Status.String())

	fields := logger.MergeWithDuration(logger.Fields(
		logger.FieldStatus, o.Status.String(),
		logger.FieldReceived, o.Received,
		logger.FieldEmitted, o.Emitted,
		"detached", o.Detached,
		"canceled", o.Canceled,
	), o.Duration)
	if o.Err != nil {
		code := "UNKNOWN"
		if appErr, ok := apperrors.AsAppError(o.Err); ok {
			code = string(appErr.Code)
		}
		observability.SetSpanError(ctx, o.Err)
		observability.SetSpanAttribute(ctx, observability.AttrErrorCode, code)
		s.rec.Failed(ctx, code)
		s.log.Warn("stage failed", logger.MergeWithError(fields, o.Err))
	} else {
		s.log.Debug("stage settled", fields)
	}

	stats := s.stats()
	ev := Event{Type: EventStageSettled, Status: RunRunning, Stage: &stats}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	r.notify(ev)
	return o
}

func (r *run) finish(ctx context.Context, span trace.Span, outcomes []Outcome) {
	res := Result{RunID: r.id, Name: r.name, Outcomes: outcomes, Started: r.started}
	status := RunCompleted

	var failures []error
	canceled := false
	for _, o := range outcomes {
		if o.Err != nil {
			failures = append(failures, o.Err)
		}
		canceled = canceled || o.Canceled
	}
	// Stages racing a cancel can observe a closed neighbour first.
	canceled = canceled || r.ctx.Err() != nil
	switch {
	case len(failures) > 0:
		res.Err = apperrors.PipelineFailed(r.id, failures)
		status = RunFailed
	case canceled:
		res.Err = apperrors.Canceled("pipeline run", context.Cause(r.ctx))
		status = RunCanceled
	}
	r.cancel(nil)
	res.Finished = time.Now()
	d := res.Finished.Sub(r.started)

	observability.SetSpanAttribute(ctx, observability.AttrStatus, string(status))
	fields := logger.MergeWithDuration(logger.Fields(logger.FieldStatus, string(status)), d)
	if res.Err != nil {
		observability.SetSpanError(ctx, res.Err)
		fields = logger.MergeWithError(fields, res.Err)
	}
	if status == RunFailed {
		r.log.Error("run failed", fields)
	} else {
		r.log.Debug("run finished", fields)
	}
	r.metrics.RunFinished(ctx, r.name, string(status), d)

	r.mu.Lock()
	r.result = res
	r.status = status
	r.finished = res.Finished
	r.mu.Unlock()

	ev := Event{Type: EventRunFinished, Status: status}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	r.notify(ev)
	span.End()
	close(r.done)
}

func (r *run) notify(ev Event) {
	if r.observer == nil {
		return
	}
	ev.RunID = r.id
	ev.Name = r.name
	ev.Time = time.Now()
	r.observer(ev)
}

func (r *run) stats() []StageStats {
	out := make([]StageStats, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.state.stats()
	}
	return out
}

func (r *run) snapshot() Snapshot {
	snap := Snapshot{
		RunID:     r.id,
		Name:      r.name,
		StartedAt: r.started,
		Stages:    r.stats(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snap.Status = r.status
	if r.status != RunRunning {
		f := r.finished
		snap.FinishedAt = &f
		if r.result.Err != nil {
			snap.Error = r.result.Err.Error()
		}
	}
	return snap
}
