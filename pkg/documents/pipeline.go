package documents

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/async"
	"github.com/covebase/cove/pkg/objstore"
	"github.com/covebase/cove/pkg/observability"
)

// Pipeline indexes uploaded documents in the background.
//
// Each run is dispatched detached from the triggering request: it uses
// its own context and its own transactions, so an aborted upload
// request never cancels indexing. Failures are captured on the
// document's terminal status and never propagate to the caller.
type Pipeline struct {
	store   *Store
	objects objstore.Store
	indexer Indexer
	chunker *Chunker
	timeout time.Duration
	pool    *async.WorkerPool
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewPipeline creates an indexing pipeline with a bounded worker pool.
func NewPipeline(store *Store, objects objstore.Store, indexer Indexer, chunker *Chunker, workers int, timeout time.Duration, metrics *observability.Metrics, logger *observability.Logger) *Pipeline {
	log := logger.WithComponent("indexing")
	return &Pipeline{
		store:   store,
		objects: objects,
		indexer: indexer,
		chunker: chunker,
		timeout: timeout,
		pool:    async.NewWorkerPool(context.Background(), workers, "document indexing", timeout, log),
		metrics: metrics,
		logger:  log,
	}
}

// Dispatch queues a freshly uploaded document for indexing. Returns
// immediately; the run detaches from the request lifetime.
func (p *Pipeline) Dispatch(doc *Document) {
	orgID, docID := doc.OrgID, doc.ID
	err := p.pool.Submit(func(ctx context.Context) error {
		p.Run(ctx, orgID, docID)
		return nil
	})
	if err != nil {
		// Pool is shutting down; the stuck-document sweep picks the
		// document up after restart.
		p.logger.WithError(err).WithField("document_id", docID.String()).Warn("indexing dispatch rejected")
	}
}

// Close drains the worker pool, waiting up to the job timeout for
// in-flight indexing runs to finish.
func (p *Pipeline) Close() error {
	return p.pool.Shutdown(p.timeout)
}

// Run executes one indexing pass for a document. A document that was
// deleted before the run started, or already reached a terminal
// status, is a no-op.
func (p *Pipeline) Run(ctx context.Context, orgID, docID uuid.UUID) {
	start := time.Now()

	doc, err := p.store.forIndexing(ctx, orgID, docID)
	if err != nil {
		if err == ErrNotFound {
			p.logger.WithField("document_id", docID.String()).Debug("document gone before indexing, skipping")
			p.countJob("skipped")
			return
		}
		p.logger.WithError(err).WithField("document_id", docID.String()).Error("failed to load document for indexing")
		p.countJob("error")
		return
	}
	if doc.Status != StatusProcessing {
		p.countJob("skipped")
		return
	}

	chunkCount, err := p.index(ctx, doc)
	if err != nil {
		p.logger.WithError(err).
			WithOrg(orgID.String()).
			WithField("document_id", docID.String()).
			Warn("document indexing failed")
		if markErr := p.store.MarkFailed(ctx, orgID, docID, err.Error()); markErr != nil {
			p.logger.WithError(markErr).WithField("document_id", docID.String()).Error("failed to record indexing failure")
		}
		p.countJob("failed")
		return
	}

	if err := p.store.MarkReady(ctx, orgID, docID, chunkCount); err != nil {
		p.logger.WithError(err).WithField("document_id", docID.String()).Error("failed to record indexing success")
		p.countJob("error")
		return
	}

	p.countJob("ready")
	if p.metrics != nil {
		p.metrics.IndexingDuration.Observe(time.Since(start).Seconds())
		p.metrics.DocumentChunksTotal.Add(float64(chunkCount))
	}
	p.logger.WithOrg(orgID.String()).
		WithField("document_id", docID.String()).
		WithField("chunks", chunkCount).
		Info("document indexed")
}

func (p *Pipeline) index(ctx context.Context, doc *Document) (int, error) {
	obj, err := p.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch document content: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return 0, fmt.Errorf("failed to read document content: %w", err)
	}

	chunks := p.chunker.Split(string(data))
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document has no indexable content")
	}

	if err := p.indexer.Index(ctx, doc, chunks); err != nil {
		return 0, fmt.Errorf("failed to index document: %w", err)
	}
	return len(chunks), nil
}

func (p *Pipeline) countJob(status string) {
	if p.metrics != nil {
		p.metrics.IndexingJobsTotal.WithLabelValues(status).Inc()
	}
}
