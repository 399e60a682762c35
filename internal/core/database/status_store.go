package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/markdave123-py/doqmate/internal/models"
)

var ErrDocumentNotFound = errors.New("document not found")

// StatusStore keeps document status rows in Postgres.
type StatusStore struct {
	db *sql.DB
}

func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

func (s *StatusStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO doqmate_documents (chatbot_id, document_id, file_name, status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '', now(), now())
		ON CONFLICT (chatbot_id, document_id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			status = EXCLUDED.status,
			last_error = '',
			updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, q, doc.ChatbotID, doc.ID, doc.FileName, string(doc.Status))
	return err
}

func (s *StatusStore) GetDocument(ctx context.Context, chatbotID, documentID string) (*models.Document, error) {
	const q = `
		SELECT chatbot_id, document_id, file_name, status, last_error, created_at, updated_at
		FROM doqmate_documents
		WHERE chatbot_id = $1 AND document_id = $2
	`
	var (
		d      models.Document
		status string
	)
	err := s.db.QueryRowContext(ctx, q, chatbotID, documentID).Scan(
		&d.ChatbotID, &d.ID, &d.FileName, &status, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Status = models.DocumentStatus(status)
	return &d, nil
}

func (s *StatusStore) UpdateDocumentStatus(ctx context.Context, chatbotID, documentID string, status models.DocumentStatus, lastErr string) error {
	const q = `
		UPDATE doqmate_documents
		SET status = $3, last_error = $4, updated_at = now()
		WHERE chatbot_id = $1 AND document_id = $2
	`
	res, err := s.db.ExecContext(ctx, q, chatbotID, documentID, string(status), lastErr)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, chatbotID, documentID)
	}
	return nil
}

func (s *StatusStore) DeleteDocument(ctx context.Context, chatbotID, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM doqmate_documents WHERE chatbot_id = $1 AND document_id = $2`, chatbotID, documentID)
	return err
}

// MemoryStatusStore keeps status rows in process memory.
type MemoryStatusStore struct {
	mu   sync.RWMutex
	docs map[string]models.Document
	now  func() time.Time
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{docs: make(map[string]models.Document), now: time.Now}
}

func statusKey(chatbotID, documentID string) string {
	return chatbotID + "/" + documentID
}

func (m *MemoryStatusStore) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := *doc
	now := m.now()
	if prev, ok := m.docs[statusKey(d.ChatbotID, d.ID)]; ok {
		d.CreatedAt = prev.CreatedAt
	} else {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.LastError = ""
	m.docs[statusKey(d.ChatbotID, d.ID)] = d
	return nil
}

func (m *MemoryStatusStore) GetDocument(_ context.Context, chatbotID, documentID string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[statusKey(chatbotID, documentID)]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStatusStore) UpdateDocumentStatus(_ context.Context, chatbotID, documentID string, status models.DocumentStatus, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := statusKey(chatbotID, documentID)
	d, ok := m.docs[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, k)
	}
	d.Status = status
	d.LastError = lastErr
	d.UpdatedAt = m.now()
	m.docs[k] = d
	return nil
}

func (m *MemoryStatusStore) DeleteDocument(_ context.Context, chatbotID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, statusKey(chatbotID, documentID))
	return nil
}
