package models

// Default chunk metadata.
const (
	DefaultUserGroup  = "default"
	DefaultProcessTag = "body"
)

// ChunkMeta is the fixed metadata attached to every chunk. The vector store
// flattens it to scalars; see database.RecordMetadata.
type ChunkMeta struct {
	ChunkID       string   `json:"chunk_id"`
	ChatbotID     string   `json:"chatbot_id"`
	DocumentID    string   `json:"document_id"`
	Filename      string   `json:"filename,omitempty"`
	Page          int      `json:"page"`
	OrderIndex    *int     `json:"order_index,omitempty"`
	ChunkOrder    int      `json:"chunk_order"`
	ProcessTag    string   `json:"process_tag"`
	UserGroup     string   `json:"user_group,omitempty"`
	UserGroupTags []string `json:"user_group_tags"`
	ImagePaths    []string `json:"image_paths"`
}

// Order returns the document-wide order index when it is known.
func (m ChunkMeta) Order() (int, bool) {
	if m.OrderIndex == nil {
		return 0, false
	}
	return *m.OrderIndex, true
}

// TextChunk is the unit of embedding and retrieval.
type TextChunk struct {
	ChunkID string    `json:"chunk_id"`
	Text    string    `json:"text"`
	Page    int       `json:"page"`
	Order   int       `json:"order"`
	Meta    ChunkMeta `json:"meta"`
}

// ScoredChunk is a chunk returned by search. Neighbor chunks carry score 0.
type ScoredChunk struct {
	ChunkID string    `json:"chunk_id"`
	Text    string    `json:"text"`
	Score   float64   `json:"score"`
	Meta    ChunkMeta `json:"meta"`
}

// IntPtr is a small helper for optional int fields.
func IntPtr(v int) *int { return &v }
