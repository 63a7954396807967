package explorer

import (
	"sort"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

// Candidate is an observed screen kept as a backfill option.
type Candidate struct {
	Image     []byte
	Parsed    *hierarchy.Parsed
	ImageHash string
	Score     int
	Step      int
}

// QualityScore rates how marketable a screen looks from its structure:
// min(interactive,8)*2 + min(text,8) + floor(coverage/20).
func QualityScore(p *hierarchy.Parsed) int {
	if p == nil {
		return 0
	}
	return min(len(p.Interactive), 8)*2 + min(len(p.TextElements), 8) + int(p.SemanticsCoverage/20)
}

// candidatePool keeps the best distinct screens, bounded by capacity.
type candidatePool struct {
	capacity int
	byHash   map[string]*Candidate
}

func newCandidatePool(capacity int) *candidatePool {
	return &candidatePool{capacity: capacity, byHash: make(map[string]*Candidate)}
}

// add registers c unless its hash is known or it has no elements. It reports
// whether c was kept.
func (p *candidatePool) add(c *Candidate) bool {
	if c.Parsed == nil || c.Parsed.TotalCount == 0 {
		return false
	}
	if _, ok := p.byHash[c.ImageHash]; ok {
		return false
	}
	p.byHash[c.ImageHash] = c
	if len(p.byHash) > p.capacity {
		ranked := p.ranked()
		for _, drop := range ranked[p.capacity:] {
			delete(p.byHash, drop.ImageHash)
		}
	}
	_, kept := p.byHash[c.ImageHash]
	return kept
}

// ranked orders candidates by score descending, then earliest step.
func (p *candidatePool) ranked() []*Candidate {
	out := make([]*Candidate, 0, len(p.byHash))
	for _, c := range p.byHash {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].ImageHash < out[j].ImageHash
	})
	return out
}

func (p *candidatePool) len() int { return len(p.byHash) }
