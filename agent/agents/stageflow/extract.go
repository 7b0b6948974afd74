package stageflow

import "regexp"

// Extractor pulls an order identifier out of free text. It is a pluggable
// strategy so the heuristic can be swapped for structured extraction
// without touching the state machine.
type Extractor interface {
	Extract(text string) (string, bool)
}

const DefaultMinIDLength = 6

// RegexExtractor is the heuristic default: the first alphanumeric token
// containing a digit and at least MinLength characters. MinLength is the
// tunable boundary for the heuristic's false-negative rate.
type RegexExtractor struct {
	MinLength int

	tokenRe *regexp.Regexp
	digitRe *regexp.Regexp
}

var _ Extractor = (*RegexExtractor)(nil)

func NewRegexExtractor(minLength int) *RegexExtractor {
	if minLength <= 0 {
		minLength = DefaultMinIDLength
	}
	return &RegexExtractor{
		MinLength: minLength,
		tokenRe:   regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9_-]*`),
		digitRe:   regexp.MustCompile(`[0-9]`),
	}
}

func (e *RegexExtractor) Extract(text string) (string, bool) {
	for _, tok := range e.tokenRe.FindAllString(text, -1) {
		if len(tok) >= e.MinLength && e.digitRe.MatchString(tok) {
			return tok, true
		}
	}
	return "", false
}
