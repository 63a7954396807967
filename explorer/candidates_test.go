package explorer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

func TestQualityScore(t *testing.T) {
	assert.Zero(t, QualityScore(nil))

	p := &hierarchy.Parsed{SemanticsCoverage: 59.9}
	for i := 0; i < 10; i++ {
		p.Interactive = append(p.Interactive, &hierarchy.Element{ID: i})
	}
	for i := 0; i < 3; i++ {
		p.TextElements = append(p.TextElements, &hierarchy.Element{ID: 10 + i})
	}
	// Interactive caps at 8.
	assert.Equal(t, 8*2+3+2, QualityScore(p))
}

func candidate(hash string, score, step int) *Candidate {
	return &Candidate{
		ImageHash: hash,
		Score:     score,
		Step:      step,
		Parsed:    &hierarchy.Parsed{TotalCount: 1},
	}
}

func TestCandidatePool_RanksAndPrunes(t *testing.T) {
	pool := newCandidatePool(3)

	assert.True(t, pool.add(candidate("a", 5, 1)))
	assert.True(t, pool.add(candidate("b", 9, 2)))
	assert.True(t, pool.add(candidate("c", 5, 3)))
	assert.False(t, pool.add(candidate("b", 20, 4)), "same hash")
	assert.False(t, pool.add(&Candidate{ImageHash: "empty", Parsed: &hierarchy.Parsed{}}), "no elements")

	// Over capacity: the lowest score and then the latest step goes.
	assert.True(t, pool.add(candidate("d", 7, 5)))
	assert.Equal(t, 3, pool.len())
	assert.False(t, pool.add(candidate("e", 1, 6)), "worse than everything kept")

	var order []string
	for _, c := range pool.ranked() {
		order = append(order, c.ImageHash)
	}
	assert.Equal(t, []string{"b", "d", "a"}, order)
}

func TestCandidatePool_Capacity(t *testing.T) {
	pool := newCandidatePool(12)
	for i := 0; i < 40; i++ {
		pool.add(candidate(fmt.Sprintf("h%02d", i), i%7, i))
	}
	require.Equal(t, 12, pool.len())
	ranked := pool.ranked()
	for i := 1; i < len(ranked); i++ {
		prev, cur := ranked[i-1], ranked[i]
		assert.True(t, prev.Score > cur.Score || (prev.Score == cur.Score && prev.Step < cur.Step))
	}
	assert.Equal(t, 6, ranked[0].Score)
	assert.Equal(t, 6, ranked[0].Step)
}
