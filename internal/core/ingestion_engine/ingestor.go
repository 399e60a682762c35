package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/markdave123-py/doqmate/internal/core"
	db "github.com/markdave123-py/doqmate/internal/core/database"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

var (
	ErrAlreadyQueued = errors.New("document is already queued or being indexed")
	ErrDocumentBusy  = errors.New("document is being indexed")
)

// IndexScheduler hands a document to whatever runs indexing: the
// in-process pool or the distributed task queue.
type IndexScheduler interface {
	Schedule(ctx context.Context, req models.IndexRequest) error
}

type Ingestor interface {
	IndexScheduler
	Start(ctx context.Context)
	Wait() error
	Index(ctx context.Context, req models.IndexRequest) (*models.IngestSummary, error)
	DeleteDocument(ctx context.Context, chatbotID, documentID string) (*models.DeleteSummary, error)
}

var _ Ingestor = (*DocumentIngestor)(nil)

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
func NewDocumentIngestor(
	stages Stages,
	emb core.EmbeddingProvider,
	store core.VectorStore,
	status core.StatusRecorder,
	objects core.ObjectClient,
	cfg IngestConfig,
	log *slog.Logger,
) *DocumentIngestor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultIngestConfig.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultIngestConfig.QueueSize
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultIngestConfig.EmbedBatchSize
	}
	return &DocumentIngestor{
		stages:   stages,
		embedder: emb,
		store:    store,
		status:   status,
		objects:  objects,
		cfg:      cfg,
		log:      logger.Or(log),
		jobs:     make(chan models.IndexRequest, cfg.QueueSize),
		owners:   make(map[string]struct{}),
	}
}

func ownerKey(chatbotID, documentID string) string {
	return chatbotID + "/" + documentID
}

// claim makes the caller the single owner of a document.
func (i *DocumentIngestor) claim(chatbotID, documentID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	k := ownerKey(chatbotID, documentID)
	if _, ok := i.owners[k]; ok {
		return false
	}
	i.owners[k] = struct{}{}
	return true
}

func (i *DocumentIngestor) release(chatbotID, documentID string) {
	i.mu.Lock()
	delete(i.owners, ownerKey(chatbotID, documentID))
	i.mu.Unlock()
}

// Start runs cfg.Workers goroutines reading from the jobs channel until ctx
// is cancelled.
func (i *DocumentIngestor) Start(ctx context.Context) {
	for w := 1; w <= i.cfg.Workers; w++ {
		i.workers.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					i.log.Info("index worker shutting down", "worker", w)
					return nil
				case req := <-i.jobs:
					i.log.Info("index worker picked document", "worker", w, "chatbot_id", req.ChatbotID, "document_id", req.DocumentID)
					if _, err := i.run(ctx, req); err != nil {
						i.log.Error("indexing failed", "worker", w, "chatbot_id", req.ChatbotID, "document_id", req.DocumentID, "error", err)
					}
					i.release(req.ChatbotID, req.DocumentID)
				}
			}
		})
	}
}

// Wait blocks until every worker has stopped.
func (i *DocumentIngestor) Wait() error {
	return i.workers.Wait()
}

// Schedule queues a document for the worker pool. A document that is
// already queued, running or being deleted is rejected with ErrAlreadyQueued.
// A full queue blocks until space frees up or ctx ends.
func (i *DocumentIngestor) Schedule(ctx context.Context, req models.IndexRequest) error {
	if !i.claim(req.ChatbotID, req.DocumentID) {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, ownerKey(req.ChatbotID, req.DocumentID))
	}
	select {
	case i.jobs <- req:
		return nil
	case <-ctx.Done():
		i.release(req.ChatbotID, req.DocumentID)
		return ctx.Err()
	}
}

// Index runs the pipeline synchronously on the calling goroutine.
func (i *DocumentIngestor) Index(ctx context.Context, req models.IndexRequest) (*models.IngestSummary, error) {
	if !i.claim(req.ChatbotID, req.DocumentID) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentBusy, ownerKey(req.ChatbotID, req.DocumentID))
	}
	defer i.release(req.ChatbotID, req.DocumentID)
	return i.run(ctx, req)
}

// run wraps ProcessDocument with the indexing → ready|failed transitions.
func (i *DocumentIngestor) run(ctx context.Context, req models.IndexRequest) (*models.IngestSummary, error) {
	i.setStatus(ctx, req, models.StatusIndexing, "")
	sum, err := i.ProcessDocument(ctx, req)
	if err != nil {
		i.setStatus(ctx, req, models.StatusFailed, err.Error())
		return nil, err
	}
	i.setStatus(ctx, req, models.StatusReady, "")
	return sum, nil
}

// setStatus records a transition, creating the row when the document was
// indexed without going through upload.
func (i *DocumentIngestor) setStatus(ctx context.Context, req models.IndexRequest, status models.DocumentStatus, lastErr string) {
	if i.status == nil {
		return
	}
	err := i.status.UpdateDocumentStatus(ctx, req.ChatbotID, req.DocumentID, status, lastErr)
	if errors.Is(err, db.ErrDocumentNotFound) {
		err = i.status.CreateDocument(ctx, &models.Document{
			ID:        req.DocumentID,
			ChatbotID: req.ChatbotID,
			FileName:  req.FileName,
			Status:    status,
		})
		if err == nil && lastErr != "" {
			err = i.status.UpdateDocumentStatus(ctx, req.ChatbotID, req.DocumentID, status, lastErr)
		}
	}
	if err != nil {
		i.log.Warn("status update failed",
			"chatbot_id", req.ChatbotID,
			"document_id", req.DocumentID,
			"status", status,
			"error", err,
		)
	}
}

// DeleteDocument removes a document's vectors, its saved images and its
// status row. Vector store errors are returned; image and status cleanup
// failures are logged.
func (i *DocumentIngestor) DeleteDocument(ctx context.Context, chatbotID, documentID string) (*models.DeleteSummary, error) {
	if !i.claim(chatbotID, documentID) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentBusy, ownerKey(chatbotID, documentID))
	}
	defer i.release(chatbotID, documentID)

	log := i.log.With("chatbot_id", chatbotID, "document_id", documentID)
	sum := &models.DeleteSummary{ChatbotID: chatbotID, DocumentID: documentID}

	n, err := i.store.DeleteByDocument(ctx, chatbotID, documentID)
	if err != nil {
		return nil, fmt.Errorf("delete vectors: %w", err)
	}
	sum.DeletedVectors = n

	if i.objects != nil {
		removed, err := i.objects.DeletePrefix(ctx, documentID+"/")
		if err != nil {
			log.Warn("image cleanup failed", "error", err)
		}
		sum.DeletedImages = removed
	}
	if i.status != nil {
		if err := i.status.DeleteDocument(ctx, chatbotID, documentID); err != nil {
			log.Warn("status row cleanup failed", "error", err)
		}
	}

	log.Info("document deleted", "deleted_vectors", sum.DeletedVectors, "deleted_images", sum.DeletedImages)
	return sum, nil
}
