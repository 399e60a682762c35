package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/markdave123-py/doqmate/internal/core/ingestion_engine"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

type fakeIndexer struct {
	got []models.IndexRequest
	err error
}

func (f *fakeIndexer) Index(_ context.Context, req models.IndexRequest) (*models.IngestSummary, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.IngestSummary{ChatbotID: req.ChatbotID, DocumentID: req.DocumentID, Chunks: 4}, nil
}

func TestNewIndexTask(t *testing.T) {
	req := models.IndexRequest{ChatbotID: "bot", DocumentID: "doc", PDFPath: "/data/uploads/bot/doc.pdf", UserGroupTags: []string{"ops"}}
	task, err := NewIndexTask(req)
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TaskIndexDocument {
		t.Fatalf("type = %s", task.Type())
	}
	var back models.IndexRequest
	if err := json.Unmarshal(task.Payload(), &back); err != nil {
		t.Fatal(err)
	}
	if back.PDFPath != req.PDFPath || back.UserGroupTags[0] != "ops" {
		t.Fatalf("payload = %+v", back)
	}
	if TaskID("bot", "doc") != "index:bot:doc" {
		t.Fatalf("task id = %s", TaskID("bot", "doc"))
	}
}

func TestProcessIndex(t *testing.T) {
	good, _ := NewIndexTask(models.IndexRequest{ChatbotID: "bot", DocumentID: "doc"})
	tests := []struct {
		name      string
		task      *asynq.Task
		indexErr  error
		wantErr   bool
		skipRetry bool
		calls     int
	}{
		{"ok", good, nil, false, false, 1},
		{"pipeline failure completes the task", good, errors.New("embed: timeout"), false, false, 1},
		{"busy document completes so the task id is released", good, fmt.Errorf("%w: bot/doc", ingestion_engine.ErrDocumentBusy), false, false, 1},
		{"bad payload", asynq.NewTask(TaskIndexDocument, []byte("{")), nil, true, true, 0},
		{"missing ids", asynq.NewTask(TaskIndexDocument, []byte(`{"chatbot_id":"bot"}`)), nil, true, true, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			idx := &fakeIndexer{err: tc.indexErr}
			err := NewTaskProcessor(idx, logger.Discard()).ProcessIndex(context.Background(), tc.task)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if errors.Is(err, asynq.SkipRetry) != tc.skipRetry {
				t.Fatalf("skip retry = %v for %v", !tc.skipRetry, err)
			}
			if len(idx.got) != tc.calls {
				t.Fatalf("index calls = %d", len(idx.got))
			}
		})
	}
}
