package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"receipt-ingest/internal/extract"
	"receipt-ingest/internal/models"
	"receipt-ingest/internal/telemetry"
)

// JobStore is the persistence surface the worker needs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	MarkJobSucceeded(ctx context.Context, id, receiptID string) error
	MarkJobFailed(ctx context.Context, id, errText string) error
	SaveReceipt(ctx context.Context, imageURI string, res models.ParseResult) (string, error)
	InsertReceiptEmbedding(ctx context.Context, receiptID, content string, vec []float32) error
}

// Queue is the job queue surface the worker needs.
type Queue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int) (int, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// Extractor turns an image reference into a canonical parse result.
type Extractor interface {
	Run(ctx context.Context, imageRef string) (models.ParseResult, error)
}

// Embedder produces vectors for similarity indexing. May be nil.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Processor drains the queue and runs the extraction pipeline. Each job is
// executed at most once: the guarded PENDING->RUNNING transition is the
// ownership test, so a requeued id whose job already ran is acked and
// dropped.
type Processor struct {
	queue        Queue
	store        JobStore
	extractor    Extractor
	embedder     Embedder
	pollInterval time.Duration
}

func NewProcessor(queue Queue, store JobStore, extractor Extractor, embedder Embedder, pollInterval time.Duration) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Processor{
		queue:        queue,
		store:        store,
		extractor:    extractor,
		embedder:     embedder,
		pollInterval: pollInterval,
	}
}

// Run polls the queue until ctx is canceled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if n, err := p.queue.RequeueExpired(ctx, time.Now(), 100); err != nil {
			log.Printf("requeue expired leases: %v", err)
		} else if n > 0 {
			log.Printf("reclaimed %d expired leases", n)
		}

		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			log.Printf("dequeue: %v", err)
			sleep(ctx, p.pollInterval)
			continue
		}
		if jobID == "" {
			sleep(ctx, p.pollInterval)
			continue
		}

		p.process(ctx, jobID)
	}
}

func (p *Processor) process(ctx context.Context, jobID string) {
	defer func() {
		if err := p.queue.Ack(ctx, jobID); err != nil {
			log.Printf("ack job %s: %v", jobID, err)
		}
	}()

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("load job %s: %v", jobID, err)
		return
	}
	if models.Terminal(job.Status) {
		return
	}

	if err := p.store.MarkJobRunning(ctx, jobID); err != nil {
		// Another worker owns this job; the lease was stale.
		log.Printf("skip job %s: %v", jobID, err)
		return
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	start := time.Now()
	res, err := p.extractor.Run(ctx, job.ImageURI)
	telemetry.ExtractDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.fail(ctx, jobID, err)
		return
	}

	receiptID, err := p.store.SaveReceipt(ctx, job.ImageURI, res)
	if err != nil {
		p.fail(ctx, jobID, fmt.Errorf("save receipt: %w", err))
		return
	}

	p.index(ctx, receiptID, res)

	if err := p.store.MarkJobSucceeded(ctx, jobID, receiptID); err != nil {
		log.Printf("mark job %s succeeded: %v", jobID, err)
		return
	}
	telemetry.WorkerSuccess.Inc()
	log.Printf("job %s succeeded: receipt %s", jobID, receiptID)
}

// fail records the classified error on the job. The job is terminal after
// this; there is no automatic retry.
func (p *Processor) fail(ctx context.Context, jobID string, err error) {
	kind := "internal"
	text := "internal: " + err.Error()
	if k, ok := extract.KindOf(err); ok {
		kind = string(k)
		text = err.Error()
	}

	telemetry.WorkerFailures.WithLabelValues(kind).Inc()
	log.Printf("job %s failed: %s", jobID, text)
	if err := p.store.MarkJobFailed(ctx, jobID, text); err != nil {
		log.Printf("mark job %s failed: %v", jobID, err)
	}
}

// index embeds the receipt's searchable text. Best effort: indexing
// failures are logged and never fail the job.
func (p *Processor) index(ctx context.Context, receiptID string, res models.ParseResult) {
	if p.embedder == nil {
		return
	}
	content := indexText(res)
	if content == "" {
		return
	}
	vec, err := p.embedder.Embed(ctx, content)
	if err != nil {
		log.Printf("embed receipt %s: %v", receiptID, err)
		return
	}
	if err := p.store.InsertReceiptEmbedding(ctx, receiptID, content, vec); err != nil {
		log.Printf("index receipt %s: %v", receiptID, err)
	}
}

func indexText(res models.ParseResult) string {
	parts := make([]string, 0, len(res.Items)+2)
	if res.Merchant.Name != "" && res.Merchant.Name != "Unknown" {
		parts = append(parts, res.Merchant.Name)
	}
	if res.Category != nil && *res.Category != "" {
		parts = append(parts, *res.Category)
	}
	for _, item := range res.Items {
		if item.LineText != "" {
			parts = append(parts, item.LineText)
		}
	}
	return strings.Join(parts, "\n")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
