package explorer

import (
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

const (
	signatureElements = 12
	signatureQuantum  = 10
	semanticsBucket   = 20
)

// Signature identifies "the same screen" across observations. It hashes the
// platform, element counts, a coarse semantics bucket and the labels and
// quantized centers of the leading text and interactive elements. Tuples are
// sorted so traversal order does not matter, and positions are rounded to the
// nearest 10 units so small jitter does not change the result.
func Signature(p *hierarchy.Parsed) string {
	if p == nil {
		return ""
	}
	h := blake3.New()
	fmt.Fprintf(h, "p=%s;n=%d;i=%d;s=%d", p.Platform, p.TotalCount, len(p.Interactive),
		int(p.SemanticsCoverage)/semanticsBucket)
	for _, group := range [][]*hierarchy.Element{p.TextElements, p.Interactive} {
		tuples := signatureTuples(group)
		fmt.Fprintf(h, ";[%s]", strings.Join(tuples, ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func signatureTuples(els []*hierarchy.Element) []string {
	n := min(len(els), signatureElements)
	out := make([]string, 0, n)
	for _, el := range els[:n] {
		label := strings.Join(strings.Fields(strings.ToLower(el.Label())), " ")
		x, y := 0, 0
		if el.Bounds != nil {
			x, y = quantize(el.Bounds.CenterX), quantize(el.Bounds.CenterY)
		}
		out = append(out, fmt.Sprintf("%q@%d:%d", label, x, y))
	}
	sort.Strings(out)
	return out
}

func quantize(v int) int {
	return int(math.Round(float64(v)/signatureQuantum)) * signatureQuantum
}
