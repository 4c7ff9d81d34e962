package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"go.uber.org/zap"
)

// defaultProcessTimeout caps how long a single batch mutation may run.
const defaultProcessTimeout = 5 * time.Minute

// BatchObserver records how long each batch took to process.
type BatchObserver interface {
	ObserveBatch(queue string, took time.Duration)
}

// Worker consumes one queue and keeps the job ledger in sync with what the
// processor does to each batch.
type Worker struct {
	desc    broker.QueueDescriptor
	broker  BrokerConsumer
	ledger  ledger.ServiceInterface
	proc    Processor
	timeout time.Duration
	id      string
	log     *zap.Logger
	metrics BatchObserver

	// deadLetter switches ledger bookkeeping to the dead_letter_* statuses
	// so a DLQ replay never masquerades as a live batch.
	deadLetter bool

	// Operator overrides for the queue's retry policy. Zero values keep the
	// descriptor's defaults.
	retryMax   int
	retryDelay time.Duration

	mu      sync.Mutex
	running bool
}

type WorkerOption func(*Worker)

func WithProcessTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.timeout = d }
}

func WithDeadLetterBookkeeping() WorkerOption {
	return func(w *Worker) { w.deadLetter = true }
}

// WithBatchObserver attaches a processing time recorder.
func WithBatchObserver(m BatchObserver) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithRetryPolicy overrides the queue descriptor's retry count and delay
// with operator-configured values.
func WithRetryPolicy(maxRetries int, delay time.Duration) WorkerOption {
	return func(w *Worker) {
		w.retryMax = maxRetries
		w.retryDelay = delay
	}
}

func NewWorker(desc broker.QueueDescriptor, b BrokerConsumer, l ledger.ServiceInterface, proc Processor, log *zap.Logger, opts ...WorkerOption) *Worker {
	host, _ := os.Hostname()
	w := &Worker{
		desc:    desc,
		broker:  b,
		ledger:  l,
		proc:    proc,
		timeout: defaultProcessTimeout,
		id:      fmt.Sprintf("%s-%d", host, os.Getpid()),
		log:     log.Named("consumer").With(zap.String("queue", desc.Name)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers the consumer with the broker.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	opts := broker.ConsumeOptionsFor(w.desc)
	if w.retryMax > 0 {
		opts.MaxRetries = w.retryMax
	}
	if w.retryDelay > 0 {
		opts.RetryDelay = w.retryDelay
	}

	if err := w.broker.Consume(w.desc.Name, w.handle, opts); err != nil {
		return err
	}
	w.running = true
	w.log.Info("worker started", zap.String("worker_id", w.id))
	return nil
}

// Stop cancels the consumer. In-flight deliveries finish on their own.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false

	if err := w.broker.CancelConsumer(w.desc.Name); err != nil {
		return err
	}
	w.log.Info("worker stopped")
	return nil
}

// Running reports whether the worker currently holds a consumer.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Queue returns the name of the consumed queue.
func (w *Worker) Queue() string { return w.desc.Name }

func (w *Worker) handle(ctx context.Context, payload []byte, meta broker.Delivery) error {
	batchID := meta.CorrelationID
	if batchID == "" {
		var probe struct {
			BatchID string `json:"batchId"`
		}
		_ = json.Unmarshal(payload, &probe)
		batchID = probe.BatchID
	}

	parent, known := w.markProcessing(ctx, batchID)

	start := time.Now()
	res, err := w.runIsolated(ctx, payload, meta)
	if w.metrics != nil {
		w.metrics.ObserveBatch(w.desc.Name, time.Since(start))
	}
	if err != nil {
		if known {
			w.markFailed(ctx, batchID, err)
			w.reconcile(ctx, parent)
		}
		return err
	}

	if known {
		w.markCompleted(ctx, batchID, res)
		w.reconcile(ctx, parent)
	}

	w.log.Info("batch processed",
		zap.String("batch_id", batchID),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
	)
	return nil
}

// runIsolated executes the processor in its own goroutine under a hard
// timeout. A hung mutation surfaces as an error instead of stalling the
// consumer channel.
func (w *Worker) runIsolated(ctx context.Context, payload []byte, meta broker.Delivery) (ProcessResult, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type outcome struct {
		res ProcessResult
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: common.ProcessingErrf("processor panic: %v", r)}
			}
		}()
		res, err := w.proc.Process(ctx, payload, meta)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return ProcessResult{}, common.ProcessingErrf("batch processing exceeded %s", w.timeout)
	}
}

// markProcessing flags the ledger record and returns the parent migration
// id, if any. A missing record is logged but does not block processing,
// since dead-letter replays can carry correlation ids the ledger has
// already archived; such batches skip ledger bookkeeping altogether.
func (w *Worker) markProcessing(ctx context.Context, batchID string) (parent string, known bool) {
	if batchID == "" {
		return "", false
	}

	rec, err := w.ledger.GetJob(ctx, batchID)
	if err != nil {
		w.log.Warn("batch has no ledger record", zap.String("batch_id", batchID), zap.Error(err))
		return "", false
	}

	err = w.ledger.UpdateJob(ctx, batchID, ledger.JobUpdate{
		Status:      w.status(config.JobStatusProcessing, config.JobStatusDeadLetterProcessing),
		ProcessedBy: w.id,
	})
	if err != nil {
		w.log.Warn("failed to mark batch processing", zap.String("batch_id", batchID), zap.Error(err))
	}

	if rec.ParentJobID != nil {
		return *rec.ParentJobID, true
	}
	return "", true
}

func (w *Worker) markCompleted(ctx context.Context, batchID string, res ProcessResult) {
	if batchID == "" {
		return
	}
	err := w.ledger.UpdateJob(ctx, batchID, ledger.JobUpdate{
		Status:         w.status(config.JobStatusCompleted, config.JobStatusDeadLetterCompleted),
		ProcessedItems: &res.Processed,
		Message:        res.Note,
	})
	if err != nil {
		w.log.Warn("failed to mark batch completed", zap.String("batch_id", batchID), zap.Error(err))
	}
}

func (w *Worker) markFailed(ctx context.Context, batchID string, cause error) {
	if batchID == "" {
		return
	}
	err := w.ledger.UpdateJob(ctx, batchID, ledger.JobUpdate{
		Status: w.status(config.JobStatusFailed, config.JobStatusDeadLetterFailed),
		Error:  cause.Error(),
	})
	if err != nil {
		w.log.Warn("failed to mark batch failed", zap.String("batch_id", batchID), zap.Error(err))
	}
}

func (w *Worker) reconcile(ctx context.Context, parent string) {
	if parent == "" || w.deadLetter {
		return
	}
	if err := w.ledger.ReconcileMigrationStatus(ctx, parent); err != nil {
		w.log.Warn("reconciliation failed", zap.String("migration_id", parent), zap.Error(err))
	}
}

func (w *Worker) status(live, dead config.JobStatus) config.JobStatus {
	if w.deadLetter {
		return dead
	}
	return live
}
