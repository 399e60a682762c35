package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	db "github.com/markdave123-py/doqmate/internal/core/database"
	"github.com/markdave123-py/doqmate/internal/core/ingestion_engine"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

type recordingScheduler struct {
	reqs []models.IndexRequest
	err  error
}

func (r *recordingScheduler) Schedule(_ context.Context, req models.IndexRequest) error {
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

type fakeDeleter struct{ calls int }

func (f *fakeDeleter) DeleteDocument(_ context.Context, chatbotID, documentID string) (*models.DeleteSummary, error) {
	f.calls++
	return &models.DeleteSummary{ChatbotID: chatbotID, DocumentID: documentID, DeletedVectors: 7}, nil
}

const pdfBody = "%PDF-1.4\n%fake\n"

func TestUploadSchedulesIndexing(t *testing.T) {
	ctx := context.Background()
	status := db.NewMemoryStatusStore()
	sched := &recordingScheduler{}
	svc := NewDocumentService(status, sched, &fakeDeleter{}, t.TempDir(), logger.Discard())

	doc, err := svc.Upload(ctx, "bot", "../../My Manual.pdf", strings.NewReader(pdfBody), []string{"ops"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if doc.FileName != "My_Manual.pdf" || doc.Status != models.StatusPending {
		t.Fatalf("doc = %+v", doc)
	}
	if len(sched.reqs) != 1 {
		t.Fatalf("scheduled %d", len(sched.reqs))
	}
	req := sched.reqs[0]
	if req.DocumentID != doc.ID || req.UserGroupTags[0] != "ops" {
		t.Fatalf("request = %+v", req)
	}
	data, err := os.ReadFile(req.PDFPath)
	if err != nil || string(data) != pdfBody {
		t.Fatalf("saved pdf = %q, %v", data, err)
	}
	got, _ := svc.Get(ctx, "bot", doc.ID)
	if got == nil || got.Status != models.StatusPending {
		t.Fatalf("status row = %+v", got)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	sched := &recordingScheduler{}
	svc := NewDocumentService(db.NewMemoryStatusStore(), sched, &fakeDeleter{}, t.TempDir(), logger.Discard())
	if _, err := svc.Upload(context.Background(), "bot", "a.pdf", strings.NewReader("hello"), nil, false); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("err = %v", err)
	}
	if len(sched.reqs) != 0 {
		t.Fatal("non-pdf scheduled")
	}
}

func TestUploadMarksFailedWhenScheduleFails(t *testing.T) {
	status := db.NewMemoryStatusStore()
	sched := &recordingScheduler{err: ingestion_engine.ErrAlreadyQueued}
	svc := NewDocumentService(status, sched, &fakeDeleter{}, t.TempDir(), logger.Discard())
	_, err := svc.Upload(context.Background(), "bot", "a.pdf", strings.NewReader(pdfBody), nil, false)
	if !errors.Is(err, ingestion_engine.ErrAlreadyQueued) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteRemovesUpload(t *testing.T) {
	ctx := context.Background()
	sched := &recordingScheduler{}
	del := &fakeDeleter{}
	svc := NewDocumentService(db.NewMemoryStatusStore(), sched, del, t.TempDir(), logger.Discard())
	doc, err := svc.Upload(ctx, "bot", "a.pdf", strings.NewReader(pdfBody), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := svc.Delete(ctx, "bot", doc.ID)
	if err != nil || sum.DeletedVectors != 7 || del.calls != 1 {
		t.Fatalf("sum = %+v, err = %v", sum, err)
	}
	if _, err := os.Stat(sched.reqs[0].PDFPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("upload not removed: %v", err)
	}
}
