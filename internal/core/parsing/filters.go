package parsing

import "github.com/markdave123-py/doqmate/internal/models"

type imageCandidate struct {
	bbox          models.BBox
	width, height int
}

// filterBySize drops images whose intrinsic size is below the minimum.
func filterBySize(cands []imageCandidate, minW, minH int) []imageCandidate {
	out := make([]imageCandidate, 0, len(cands))
	for _, c := range cands {
		if c.width >= minW && c.height >= minH {
			out = append(out, c)
		}
	}
	return out
}

// filterByContainment removes every candidate lying wholly inside another
// one. Of two identical boxes the first is removed and the second kept.
func filterByContainment(cands []imageCandidate) []imageCandidate {
	removed := make([]bool, len(cands))
	for i := range cands {
		if removed[i] {
			continue
		}
		for j := range cands {
			if i == j || removed[j] {
				continue
			}
			if cands[j].bbox.Contains(cands[i].bbox) {
				removed[i] = true
				break
			}
			if cands[i].bbox.Contains(cands[j].bbox) {
				removed[j] = true
			}
		}
	}
	out := make([]imageCandidate, 0, len(cands))
	for i, c := range cands {
		if !removed[i] {
			out = append(out, c)
		}
	}
	return out
}

// dedupByBBox keeps the first candidate for each bbox rounded to 0.1pt.
func dedupByBBox(cands []imageCandidate) []imageCandidate {
	seen := make(map[[4]float64]struct{}, len(cands))
	out := make([]imageCandidate, 0, len(cands))
	for _, c := range cands {
		k := c.bbox.RoundKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

func selectImages(cands []imageCandidate, minW, minH int) []imageCandidate {
	return dedupByBBox(filterByContainment(filterBySize(cands, minW, minH)))
}
