package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

// VectorClient stores chunks in pgvector, one table per chatbot named
// {prefix}{chatbotId}.
type VectorClient struct {
	db     *sql.DB
	prefix string
	dim    int
	log    *slog.Logger

	mu      sync.Mutex
	created map[string]bool
}

// NewVectorClient uses an untyped vector column when dim is 0.
func NewVectorClient(db *sql.DB, prefix string, dim int, log *slog.Logger) *VectorClient {
	return &VectorClient{
		db:      db,
		prefix:  prefix,
		dim:     dim,
		log:     logger.Or(log),
		created: make(map[string]bool),
	}
}

// CollectionName returns the table name for a chatbot.
func (c *VectorClient) CollectionName(chatbotID string) string {
	return c.prefix + chatbotID
}

func (c *VectorClient) table(chatbotID string) string {
	return pgx.Identifier{c.CollectionName(chatbotID)}.Sanitize()
}

func (c *VectorClient) ensureTable(ctx context.Context, chatbotID string) error {
	name := c.CollectionName(chatbotID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created[name] {
		return nil
	}

	column := "vector"
	if c.dim > 0 {
		column = fmt.Sprintf("vector(%d)", c.dim)
	}
	tbl := c.table(chatbotID)
	idx := pgx.Identifier{name + "_document_idx"}.Sanitize()
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			chatbot_id  TEXT NOT NULL,
			document_id TEXT NOT NULL,
			user_group  TEXT NOT NULL DEFAULT '',
			order_index INT,
			document    TEXT NOT NULL,
			embedding   %s NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE INDEX IF NOT EXISTS %s ON %s (document_id, order_index);
	`, tbl, column, idx, tbl)
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	c.created[name] = true
	return nil
}

// Upsert writes all chunks in a single transaction.
func (c *VectorClient) Upsert(ctx context.Context, chatbotID, documentID string, chunks []models.TextChunk, embeddings [][]float32) (int, error) {
	records, err := toRecords(chatbotID, documentID, chunks, embeddings)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := c.ensureTable(ctx, chatbotID); err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (id, chatbot_id, document_id, user_group, order_index, document, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			chatbot_id = EXCLUDED.chatbot_id,
			document_id = EXCLUDED.document_id,
			user_group = EXCLUDED.user_group,
			order_index = EXCLUDED.order_index,
			document = EXCLUDED.document,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata
	`, c.table(chatbotID))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for _, r := range records {
		md, err := json.Marshal(r.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("encode metadata for %s: %w", r.ID, err)
		}
		var order sql.NullInt64
		if v, ok := asInt(r.Metadata[KeyOrderIndex]); ok {
			order = sql.NullInt64{Int64: int64(v), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, chatbotID, documentID, asString(r.Metadata[KeyUserGroup]), order,
			r.Document, pgvector.NewVector(r.Embedding), string(md),
		); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	c.log.Info("vectors upserted", "chatbot_id", chatbotID, "document_id", documentID, "count", len(records))
	return len(records), nil
}

// Search finds the topK nearest chunks by L2 distance. A chatbot without a
// collection yields no results.
func (c *VectorClient) Search(ctx context.Context, chatbotID string, query []float32, userGroup string, topK int) ([]models.ScoredChunk, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}
	exists, err := tableExists(ctx, c.db, c.CollectionName(chatbotID))
	if err != nil {
		return nil, fmt.Errorf("collection check: %w", err)
	}
	if !exists {
		c.log.Warn("collection not found", "chatbot_id", chatbotID, "collection", c.CollectionName(chatbotID))
		return nil, nil
	}

	args := []any{pgvector.NewVector(query), chatbotID, topK}
	where := "chatbot_id = $2"
	if userGroup != "" {
		where += " AND user_group = $4"
		args = append(args, userGroup)
	}
	q := fmt.Sprintf(`
		SELECT id, document, metadata, embedding <-> $1 AS distance
		FROM %s
		WHERE %s
		ORDER BY distance
		LIMIT $3
	`, c.table(chatbotID), where)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			id, doc  string
			raw      []byte
			distance float64
		)
		if err := rows.Scan(&id, &doc, &raw, &distance); err != nil {
			return nil, err
		}
		out = append(out, scored(id, doc, raw, Score(distance)))
	}
	return out, rows.Err()
}

// FetchNeighbors returns a document's chunks with order index in [from, to].
func (c *VectorClient) FetchNeighbors(ctx context.Context, chatbotID, documentID string, from, to int) ([]models.ScoredChunk, error) {
	exists, err := tableExists(ctx, c.db, c.CollectionName(chatbotID))
	if err != nil || !exists {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT id, document, metadata
		FROM %s
		WHERE chatbot_id = $1 AND document_id = $2 AND order_index BETWEEN $3 AND $4
		ORDER BY order_index ASC
	`, c.table(chatbotID))
	rows, err := c.db.QueryContext(ctx, q, chatbotID, documentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			id, doc string
			raw     []byte
		)
		if err := rows.Scan(&id, &doc, &raw); err != nil {
			return nil, err
		}
		out = append(out, scored(id, doc, raw, 0))
	}
	return out, rows.Err()
}

// DeleteByDocument removes every record of a document.
func (c *VectorClient) DeleteByDocument(ctx context.Context, chatbotID, documentID string) (int64, error) {
	exists, err := tableExists(ctx, c.db, c.CollectionName(chatbotID))
	if err != nil {
		return 0, fmt.Errorf("collection check: %w", err)
	}
	if !exists {
		return 0, nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, c.table(chatbotID))
	res, err := c.db.ExecContext(ctx, q, documentID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	c.log.Info("vectors deleted", "chatbot_id", chatbotID, "document_id", documentID, "count", n)
	return n, nil
}

func scored(id, doc string, raw []byte, score float64) models.ScoredChunk {
	var md map[string]any
	_ = json.Unmarshal(raw, &md)
	meta := MetaFromRecord(md)
	if meta.ChunkID == "" {
		meta.ChunkID = id
	}
	return models.ScoredChunk{ChunkID: id, Text: doc, Score: score, Meta: meta}
}
