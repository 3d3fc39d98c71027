package parser

import (
	"regexp"
	"strings"
)

// Segment is the English part of a mistake response, handed to each strategy.
type Segment struct {
	English     string
	Corrected   string // first quoted substring, "" when none
	HasBoundary bool   // the secondary explanation marker followed the English part
}

// Strategy extracts the brief explanation from a segment. Strategies are tried in
// table order and the first match wins.
type Strategy struct {
	Name    string
	Extract func(Segment) (string, bool)
}

var (
	sentenceBeforeRetry    = regexp.MustCompile(`\. (.+?)\. ` + regexp.QuoteMeta(RetryPhrase) + `\?`)
	sentenceBeforeBoundary = regexp.MustCompile(`\. (.+?)\.?\s*$`)
	afterQuoteBeforeRetry  = regexp.MustCompile(`^\.?\s*(.+?)\.?\s*` + regexp.QuoteMeta(RetryPhrase))
)

// DefaultStrategies returns the standard extraction table.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "sentence-before-retry", Extract: regexpStrategy(sentenceBeforeRetry)},
		{Name: "sentence-before-boundary", Extract: func(s Segment) (string, bool) {
			if !s.HasBoundary || strings.Contains(s.English, RetryPhrase) {
				return "", false
			}
			return regexpStrategy(sentenceBeforeBoundary)(s)
		}},
		{Name: "after-correction", Extract: afterCorrection},
	}
}

func regexpStrategy(re *regexp.Regexp) func(Segment) (string, bool) {
	return func(s Segment) (string, bool) {
		m := re.FindStringSubmatch(s.English)
		if m == nil {
			return "", false
		}
		brief := strings.TrimSpace(m[1])
		return brief, brief != ""
	}
}

func afterCorrection(s Segment) (string, bool) {
	if s.Corrected == "" {
		return "", false
	}
	var rest string
	var found bool
	for _, quote := range []string{`"`, `'`} {
		if _, after, ok := strings.Cut(s.English, quote+s.Corrected+quote); ok {
			rest, found = after, true
			break
		}
	}
	if !found {
		return "", false
	}
	m := afterQuoteBeforeRetry.FindStringSubmatch(rest)
	if m == nil {
		return "", false
	}
	brief := strings.TrimSpace(m[1])
	return brief, brief != ""
}
