package query

import (
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/markdave123-py/doqmate/internal/models"
)

// CollectImages gathers image_paths from chunks, deduplicated by key in
// first-seen order. Keys follow {documentId}/p{page}_img{n}.{ext}; keys that
// do not parse keep what could be recovered.
func CollectImages(chunks []models.ScoredChunk, urlPrefix string) []models.ImageRef {
	prefix := strings.TrimRight(urlPrefix, "/")
	refs := make(map[string]*models.ImageRef)
	related := make(map[string]map[string]bool)
	var order []string

	for _, c := range chunks {
		for _, key := range c.Meta.ImagePaths {
			if key == "" {
				continue
			}
			ref, ok := refs[key]
			if !ok {
				doc, page, idx := parseImageKey(key)
				ref = &models.ImageRef{
					ImageKey:   key,
					DocumentID: doc,
					Page:       page,
					ImageIndex: idx,
					URL:        prefix + "/" + key,
				}
				if ref.Page == nil && c.Meta.Page > 0 {
					ref.Page = models.IntPtr(c.Meta.Page)
				}
				refs[key] = ref
				related[key] = make(map[string]bool)
				order = append(order, key)
			}
			if c.ChunkID != "" {
				related[key][c.ChunkID] = true
			}
		}
	}

	out := make([]models.ImageRef, 0, len(order))
	for _, key := range order {
		ref := refs[key]
		ids := make([]string, 0, len(related[key]))
		for id := range related[key] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		ref.RelatedChunkIDs = ids
		out = append(out, *ref)
	}
	return out
}

func parseImageKey(key string) (doc string, page, index *int) {
	docPart, file, ok := strings.Cut(key, "/")
	if !ok {
		return "", nil, nil
	}
	doc = docPart
	base := strings.TrimSuffix(file, path.Ext(file))
	body, ok := strings.CutPrefix(base, "p")
	if !ok {
		return doc, nil, nil
	}
	pageStr, idxStr, ok := strings.Cut(body, "_img")
	if !ok {
		return doc, nil, nil
	}
	p, err1 := strconv.Atoi(pageStr)
	n, err2 := strconv.Atoi(idxStr)
	if err1 != nil || err2 != nil {
		return doc, nil, nil
	}
	return doc, &p, &n
}
