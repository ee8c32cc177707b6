package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-bankauth/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDWarmTokens  = "bankauth.tokens.warm"
	JobIDPruneTokens = "bankauth.tokens.prune"

	ParamWithin = "within"
	ParamLimit  = "limit"

	DefaultWarmWithin = 15 * time.Minute
	DefaultWarmLimit  = 100

	dedupDrop = job.DeduplicationPolicy("drop")
)

// MaintenanceService is the part of core.Service the background jobs drive.
type MaintenanceService interface {
	PruneInactive(ctx context.Context) (int, error)
	WarmExpiring(ctx context.Context, within time.Duration, limit int) (core.WarmResult, error)
}

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// WarmMessage builds a warm-up job. Runs enqueued within the same window
// share an idempotency key so a backed-up queue collapses them.
func WarmMessage(within time.Duration, limit int, now time.Time) *job.ExecutionMessage {
	if within <= 0 {
		within = DefaultWarmWithin
	}
	if limit <= 0 {
		limit = DefaultWarmLimit
	}
	bucket := now.UTC().Truncate(within)
	return &job.ExecutionMessage{
		JobID:      JobIDWarmTokens,
		ScriptPath: JobIDWarmTokens,
		Parameters: map[string]any{
			ParamWithin: within.String(),
			ParamLimit:  limit,
		},
		IdempotencyKey: JobIDWarmTokens + ":" + bucket.Format(time.RFC3339),
		DedupPolicy:    dedupDrop,
	}
}

// PruneMessage builds a retention prune job, deduplicated per UTC day.
func PruneMessage(now time.Time) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDPruneTokens,
		ScriptPath:     JobIDPruneTokens,
		Parameters:     map[string]any{},
		IdempotencyKey: JobIDPruneTokens + ":" + now.UTC().Format(time.DateOnly),
		DedupPolicy:    dedupDrop,
	}
}

type Scheduler struct {
	enqueuer queue.Enqueuer
	now      func() time.Time
}

func NewScheduler(enqueuer queue.Enqueuer, now func() time.Time) *Scheduler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{enqueuer: enqueuer, now: now}
}

func (s *Scheduler) EnqueueWarm(ctx context.Context, within time.Duration, limit int) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return s.enqueuer.Enqueue(ctx, WarmMessage(within, limit, s.now()))
}

func (s *Scheduler) EnqueuePrune(ctx context.Context) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return s.enqueuer.Enqueue(ctx, PruneMessage(s.now()))
}

// Runner executes bankauth job messages against the service.
type Runner struct {
	service MaintenanceService
	logger  job.Logger
}

func NewRunner(service MaintenanceService, logger job.Logger) *Runner {
	return &Runner{service: service, logger: logger}
}

func (r *Runner) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("gojob: maintenance service is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDWarmTokens:
		within, limit, err := warmParameters(msg.Parameters)
		if err != nil {
			return err
		}
		result, err := r.service.WarmExpiring(ctx, within, limit)
		if err != nil {
			return err
		}
		r.info("bankauth token warm-up finished",
			"scanned", result.Scanned,
			"refreshed", result.Refreshed,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
		return nil
	case JobIDPruneTokens:
		pruned, err := r.service.PruneInactive(ctx)
		if err != nil {
			return err
		}
		r.info("bankauth token prune finished", "pruned", pruned)
		return nil
	default:
		return fmt.Errorf("gojob: unknown job id %q", msg.JobID)
	}
}

func (r *Runner) info(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func warmParameters(params map[string]any) (time.Duration, int, error) {
	within := DefaultWarmWithin
	limit := DefaultWarmLimit
	switch value := params[ParamWithin].(type) {
	case nil:
	case time.Duration:
		within = value
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return 0, 0, fmt.Errorf("gojob: invalid %s parameter: %w", ParamWithin, err)
		}
		within = parsed
	default:
		return 0, 0, fmt.Errorf("gojob: invalid %s parameter type %T", ParamWithin, value)
	}
	switch value := params[ParamLimit].(type) {
	case nil:
	case int:
		limit = value
	case int64:
		limit = int(value)
	case float64:
		limit = int(value)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, 0, fmt.Errorf("gojob: invalid %s parameter: %w", ParamLimit, err)
		}
		limit = parsed
	default:
		return 0, 0, fmt.Errorf("gojob: invalid %s parameter type %T", ParamLimit, value)
	}
	return within, limit, nil
}

// Worker pulls deliveries, runs them and acks or nacks under the retry
// policy. Attempts are counted per idempotency key in process.
type Worker struct {
	dequeuer queue.Dequeuer
	runner   *Runner
	policy   RetryPolicy
	backoff  core.RefreshBackoffScheduler
	hooks    []worker.Hook
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*Worker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *Worker) { w.policy = policy }
}

func WithBackoff(backoff core.RefreshBackoffScheduler) WorkerOption {
	return func(w *Worker) {
		if backoff != nil {
			w.backoff = backoff
		}
	}
}

func WithHooks(hooks ...worker.Hook) WorkerOption {
	return func(w *Worker) {
		for _, hook := range hooks {
			if hook != nil {
				w.hooks = append(w.hooks, hook)
			}
		}
	}
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWorker(dequeuer queue.Dequeuer, runner *Runner, opts ...WorkerOption) *Worker {
	w := &Worker{
		dequeuer: dequeuer,
		runner:   runner,
		policy:   RetryPolicy{MaxAttempts: 3, MaxDelay: time.Minute, DeadLetterOnMax: true},
		backoff:  core.ExponentialBackoffScheduler{Initial: time.Second, Max: time.Minute},
		now:      func() time.Time { return time.Now().UTC() },
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// ProcessNext handles one delivery. The returned error is the queue error;
// job failures are reported to hooks and nacked.
func (w *Worker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.runner == nil {
		return fmt.Errorf("gojob: worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	attempt := w.nextAttempt(msg)
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: w.now()}
	w.emit(ctx, func(h worker.Hook) { h.OnStart(ctx, event) })

	runErr := w.runner.Execute(ctx, msg)
	event.Duration = w.now().Sub(event.StartedAt)
	if runErr == nil {
		w.forget(msg)
		w.emit(ctx, func(h worker.Hook) { h.OnSuccess(ctx, event) })
		return delivery.Ack(ctx)
	}

	event.Err = runErr
	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   w.backoff.NextDelay(attempt),
		Requeue: true,
		Reason:  runErr.Error(),
	}, attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		w.emit(ctx, func(h worker.Hook) { h.OnRetry(ctx, event) })
	} else {
		w.forget(msg)
		w.emit(ctx, func(h worker.Hook) { h.OnFailure(ctx, event) })
	}
	return delivery.Nack(ctx, opts)
}

// Run processes deliveries until ctx is done, pausing idle between queue
// errors.
func (w *Worker) Run(ctx context.Context, idle time.Duration) error {
	if idle <= 0 {
		idle = time.Second
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.ProcessNext(ctx); err != nil {
			timer := time.NewTimer(idle)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func (w *Worker) nextAttempt(msg *job.ExecutionMessage) int {
	key := attemptKey(msg)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) forget(msg *job.ExecutionMessage) {
	w.mu.Lock()
	delete(w.attempts, attemptKey(msg))
	w.mu.Unlock()
}

func (w *Worker) emit(_ context.Context, fn func(worker.Hook)) {
	for _, hook := range w.hooks {
		fn(hook)
	}
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

// MetricsHook reports job lifecycle events through a core.MetricsRecorder as
// bankauth.job.<status>.total and bankauth.job.duration_ms.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.count(ctx, "started", event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.count(ctx, "succeeded", event)
	h.recorder.ObserveHistogram(ctx, "bankauth.job.duration_ms", float64(event.Duration.Milliseconds()), eventTags(event, "success"))
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.count(ctx, "failed", event)
	h.recorder.ObserveHistogram(ctx, "bankauth.job.duration_ms", float64(event.Duration.Milliseconds()), eventTags(event, "failure"))
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.count(ctx, "retried", event)
}

func (h *MetricsHook) count(ctx context.Context, status string, event worker.Event) {
	h.recorder.IncCounter(ctx, "bankauth.job."+status+".total", 1, eventTags(event, status))
}

func eventTags(event worker.Event, status string) map[string]string {
	jobID := ""
	if event.Message != nil {
		jobID = event.Message.JobID
	}
	return map[string]string{"job_id": jobID, "status": status}
}

var (
	_ worker.Hook        = (*MetricsHook)(nil)
	_ MaintenanceService = (*core.Service)(nil)
)
