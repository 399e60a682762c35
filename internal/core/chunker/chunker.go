package chunker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

var ErrInvalidWindow = errors.New("chunker: invalid window")

// Config is the sliding window, in characters.
type Config struct {
	MaxChars int
	Overlap  int
}

var DefaultConfig = Config{MaxChars: 800, Overlap: 200}

func (c Config) Validate() error {
	if c.MaxChars <= 0 {
		return fmt.Errorf("%w: max chars must be positive, got %d", ErrInvalidWindow, c.MaxChars)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChars {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidWindow, c.MaxChars, c.Overlap)
	}
	return nil
}

// Document carries the metadata stamped on every chunk.
type Document struct {
	ChatbotID     string
	DocumentID    string
	Filename      string
	UserGroupTags []string
	// ImagePaths lists saved image keys per page.
	ImagePaths map[int][]string
}

// Chunker splits merged page text into overlapping chunks.
type Chunker struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg, log: logger.Or(log)}, nil
}

// Chunk builds one string per page from the merged blocks and slides the
// window across it.
//
// Pages are visited in ascending order. Chunk ids are
// {documentId}_p{page}_c{order}, where order restarts at 0 on every page,
// and OrderIndex counts chunks across the whole document.
func (c *Chunker) Chunk(doc Document, blocks []models.MergedTextBlock) []models.TextChunk {
	if len(blocks) == 0 {
		c.log.Info("no merged blocks to chunk", "chatbot_id", doc.ChatbotID, "document_id", doc.DocumentID)
		return nil
	}

	tags := doc.UserGroupTags
	if len(tags) == 0 {
		tags = []string{models.DefaultUserGroup}
	}

	byPage := make(map[int][]string)
	for _, b := range blocks {
		if t := strings.TrimSpace(b.Text); t != "" {
			byPage[b.Page] = append(byPage[b.Page], t)
		}
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var out []models.TextChunk
	orderIndex := 0
	for _, page := range pages {
		text := strings.TrimSpace(strings.Join(byPage[page], "\n\n"))
		if text == "" {
			continue
		}
		for order, piece := range SplitText(text, c.cfg.MaxChars, c.cfg.Overlap) {
			id := fmt.Sprintf("%s_p%d_c%d", doc.DocumentID, page, order)
			out = append(out, models.TextChunk{
				ChunkID: id,
				Text:    piece,
				Page:    page,
				Order:   order,
				Meta: models.ChunkMeta{
					ChunkID:       id,
					ChatbotID:     doc.ChatbotID,
					DocumentID:    doc.DocumentID,
					Filename:      doc.Filename,
					Page:          page,
					OrderIndex:    models.IntPtr(orderIndex),
					ChunkOrder:    order,
					ProcessTag:    models.DefaultProcessTag,
					UserGroup:     tags[0],
					UserGroupTags: append([]string(nil), tags...),
					ImagePaths:    append([]string{}, doc.ImagePaths[page]...),
				},
			})
			orderIndex++
		}
	}

	c.log.Info("chunking done",
		"chatbot_id", doc.ChatbotID,
		"document_id", doc.DocumentID,
		"pages", len(pages),
		"chunks", len(out),
		"max_chars", c.cfg.MaxChars,
		"overlap", c.cfg.Overlap,
	)
	return out
}

// SplitText returns the trimmed, non-empty window slices of text.
func SplitText(text string, maxChars, overlap int) []string {
	runes := []rune(text)
	var out []string
	for _, w := range Windows(len(runes), maxChars, overlap) {
		if piece := strings.TrimSpace(string(runes[w[0]:w[1]])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// Windows returns the [start, end) rune ranges of the sliding window over a
// text of the given length.
func Windows(length, maxChars, overlap int) [][2]int {
	if length <= 0 || maxChars <= 0 || overlap < 0 || overlap >= maxChars {
		return nil
	}
	var out [][2]int
	start := 0
	for {
		end := min(start+maxChars, length)
		out = append(out, [2]int{start, end})
		if end >= length {
			return out
		}
		start = max(0, end-overlap)
	}
}
