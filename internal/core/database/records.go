package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/markdave123-py/doqmate/internal/models"
)

var ErrLengthMismatch = errors.New("vector store: chunks and embeddings differ in length")

// Metadata keys written with every record.
const (
	KeyChunkID        = "chunk_id"
	KeyChatbotID      = "chatbot_id"
	KeyDocumentID     = "document_id"
	KeyPage           = "page"
	KeyOrderIndex     = "order_index"
	KeyPageChunkOrder = "page_chunk_order"
	KeyChunkOrder     = "chunk_order"
	KeyFilename       = "filename"
	KeyProcessTag     = "process_tag"
	KeyUserGroup      = "user_group"
	KeyUserGroupTags  = "user_group_tags"
	KeyImagePaths     = "image_paths"
)

// Record is one stored chunk.
type Record struct {
	ID        string
	Document  string
	Embedding []float32
	Metadata  map[string]any
}

// RecordMetadata flattens a chunk's metadata into scalars. The id, chatbot
// and document keys always come from the arguments, never from the chunk.
func RecordMetadata(chatbotID, documentID string, ch models.TextChunk) map[string]any {
	m := ch.Meta
	tags := m.UserGroupTags
	if len(tags) == 0 {
		tags = []string{models.DefaultUserGroup}
	}
	group := m.UserGroup
	if group == "" {
		group = tags[0]
	}
	processTag := m.ProcessTag
	if processTag == "" {
		processTag = models.DefaultProcessTag
	}
	images := m.ImagePaths
	if images == nil {
		images = []string{}
	}
	imagesJSON, _ := json.Marshal(images)

	page := m.Page
	if page == 0 {
		page = ch.Page
	}

	out := map[string]any{
		KeyChunkID:        ch.ChunkID,
		KeyChatbotID:      chatbotID,
		KeyDocumentID:     documentID,
		KeyPage:           page,
		KeyPageChunkOrder: ch.Order,
		KeyChunkOrder:     m.ChunkOrder,
		KeyFilename:       m.Filename,
		KeyProcessTag:     processTag,
		KeyUserGroup:      group,
		KeyUserGroupTags:  strings.Join(tags, ","),
		KeyImagePaths:     string(imagesJSON),
	}
	if idx, ok := m.Order(); ok {
		out[KeyOrderIndex] = idx
	}
	return out
}

// MetaFromRecord rebuilds chunk metadata from stored scalars. Unknown or
// malformed values are left at their zero value.
func MetaFromRecord(md map[string]any) models.ChunkMeta {
	meta := models.ChunkMeta{
		ChunkID:    asString(md[KeyChunkID]),
		ChatbotID:  asString(md[KeyChatbotID]),
		DocumentID: asString(md[KeyDocumentID]),
		Filename:   asString(md[KeyFilename]),
		ProcessTag: asString(md[KeyProcessTag]),
		UserGroup:  asString(md[KeyUserGroup]),
		ImagePaths: []string{},
	}
	if v, ok := asInt(md[KeyPage]); ok {
		meta.Page = v
	}
	if v, ok := asInt(md[KeyOrderIndex]); ok {
		meta.OrderIndex = models.IntPtr(v)
	}
	if v, ok := asInt(md[KeyChunkOrder]); ok {
		meta.ChunkOrder = v
	}
	if tags := asString(md[KeyUserGroupTags]); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				meta.UserGroupTags = append(meta.UserGroupTags, t)
			}
		}
	}
	switch v := md[KeyImagePaths].(type) {
	case string:
		var paths []string
		if json.Unmarshal([]byte(v), &paths) == nil {
			meta.ImagePaths = paths
		}
	case []any:
		for _, p := range v {
			if s, ok := p.(string); ok {
				meta.ImagePaths = append(meta.ImagePaths, s)
			}
		}
	}
	return meta
}

func toRecords(chatbotID, documentID string, chunks []models.TextChunk, embeddings [][]float32) ([]Record, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d chunks, %d embeddings", ErrLengthMismatch, len(chunks), len(embeddings))
	}
	out := make([]Record, len(chunks))
	for i, ch := range chunks {
		out[i] = Record{
			ID:        ch.ChunkID,
			Document:  ch.Text,
			Embedding: embeddings[i],
			Metadata:  RecordMetadata(chatbotID, documentID, ch),
		}
	}
	return out, nil
}

// Score converts an L2 distance into a similarity in (0, 1].
func Score(distance float64) float64 {
	return 1 / (1 + distance)
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	}
	return 0, false
}
