package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahasler/recall/kv"
)

// Queue is the queue surface the worker needs. Implemented by kv.Store.
type Queue interface {
	Dequeue(ctx context.Context, queue string) ([]byte, error)
	Enqueue(ctx context.Context, queue string, payload []byte) error
}

// DocumentProcessor runs one payload. Implemented by Processor.
type DocumentProcessor interface {
	Process(ctx context.Context, pl *Payload) error
}

const idleSleep = 1 * time.Second

// Worker consumes the ingest queue. A failed payload lands on the
// dead-letter list with its original bytes; the worker never stops over
// one bad payload. Multiple workers are safe because the processor's
// writes are idempotent.
type Worker struct {
	queue     Queue
	processor DocumentProcessor
	log       *slog.Logger
}

// NewWorker wires a queue consumer.
func NewWorker(queue Queue, processor DocumentProcessor, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{queue: queue, processor: processor, log: log}
}

// Run consumes payloads until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("ingest worker started", "queue", kv.IngestQueue)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := w.queue.Dequeue(ctx, kv.IngestQueue)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("queue unavailable", "err", err)
			w.sleep(ctx)
			continue
		}
		if raw == nil {
			w.sleep(ctx)
			continue
		}
		w.handle(ctx, raw)
	}
}

func (w *Worker) handle(ctx context.Context, raw []byte) {
	pl, err := Decode(raw)
	if err != nil {
		w.log.Error("undecodable payload", "err", err)
		w.deadLetter(ctx, raw)
		return
	}

	if err := w.processor.Process(ctx, pl); err != nil {
		w.log.Error("payload failed", "doc_id", pl.Document.DocID, "err", err)
		w.deadLetter(ctx, raw)
	}
}

func (w *Worker) deadLetter(ctx context.Context, raw []byte) {
	if err := w.queue.Enqueue(ctx, kv.DeadLetterQueue, raw); err != nil {
		w.log.Error("dead letter push failed", "err", err)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(idleSleep):
	}
}
