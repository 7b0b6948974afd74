package prompt

import (
	_ "embed"
	"fmt"
	"strings"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/generate_query.txt
	generateQueryRaw string

	//go:embed template/check_query.txt
	checkQueryRaw string

	//go:embed template/answer.txt
	answerRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Router        string
	GenerateQuery string
	CheckQuery    string
	Answer        string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// This is safe to call concurrently; the embed is compile-time, and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:        strings.TrimSpace(routerRaw),
		GenerateQuery: strings.TrimSpace(generateQueryRaw),
		CheckQuery:    strings.TrimSpace(checkQueryRaw),
		Answer:        strings.TrimSpace(answerRaw),
	}
}

// RenderGenerateQuery fills the SQL generation prompt with the gateway
// dialect, the schema preamble, and the default row cap.
func (p PromptSet) RenderGenerateQuery(dialect, schemaText string, rowLimit int) string {
	out := strings.ReplaceAll(p.GenerateQuery, "{dialect}", dialect)
	out = strings.ReplaceAll(out, "{top_k}", fmt.Sprint(rowLimit))
	out = strings.ReplaceAll(out, "{schema}", schemaText)
	return out
}

// RenderCheckQuery fills the audit prompt with the gateway dialect.
func (p PromptSet) RenderCheckQuery(dialect string) string {
	return strings.ReplaceAll(p.CheckQuery, "{dialect}", dialect)
}

// RenderAnswer appends the retrieved policy context, when present, to the
// persona prompt.
func (p PromptSet) RenderAnswer(policyContext string) string {
	if strings.TrimSpace(policyContext) == "" {
		return p.Answer
	}
	return p.Answer + "\n\nContexto da política de devolução:\n" + policyContext
}
