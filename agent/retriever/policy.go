// Package retriever provides the policy-document lookup used by the
// document branch. Retrieval is recomputed on every branch run; nothing is
// cached across turns.
package retriever

import (
	"context"
	_ "embed"
	"sort"
	"strings"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

//go:embed document/return_policy.md
var policyRaw string

const defaultTopK = 4

// PolicyDocRetriever serves chunks of the embedded return-policy document,
// ranked by term overlap with the query. Zero-infrastructure default.
type PolicyDocRetriever struct {
	chunks []contractx.Chunk
	topK   int
}

var _ contractx.Retriever = (*PolicyDocRetriever)(nil)

func NewPolicyDocRetriever() *PolicyDocRetriever {
	return &PolicyDocRetriever{
		chunks: splitChunks(policyRaw),
		topK:   defaultTopK,
	}
}

func (r *PolicyDocRetriever) Fetch(ctx context.Context, query string) ([]contractx.Chunk, error) {
	terms := tokenize(query)
	if len(terms) == 0 || len(r.chunks) <= r.topK {
		return append([]contractx.Chunk(nil), r.chunks...), nil
	}

	type scored struct {
		chunk contractx.Chunk
		score int
		pos   int
	}
	ranked := make([]scored, 0, len(r.chunks))
	for i, c := range r.chunks {
		ranked = append(ranked, scored{chunk: c, score: overlap(terms, tokenize(c.Text)), pos: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].pos < ranked[j].pos
	})

	top := ranked[:r.topK]
	// restore document order so the context reads coherently
	sort.Slice(top, func(i, j int) bool { return top[i].pos < top[j].pos })

	out := make([]contractx.Chunk, 0, len(top))
	for _, s := range top {
		out = append(out, s.chunk)
	}
	return out, nil
}

// Join renders retrieved chunks as one context blob for the synthesizer.
func Join(chunks []contractx.Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Source != "" {
			parts = append(parts, "["+c.Source+"]\n"+c.Text)
			continue
		}
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n\n")
}

func splitChunks(doc string) []contractx.Chunk {
	var chunks []contractx.Chunk
	section := ""
	var buf []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if text == "" {
			return
		}
		chunks = append(chunks, contractx.Chunk{Source: section, Text: text})
	}

	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			section = strings.TrimSpace(strings.TrimLeft(line, "# "))
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return chunks
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) < 3 {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}
