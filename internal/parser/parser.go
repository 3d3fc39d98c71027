// Package parser recovers structured mistake-correction fields from tutor responses.
//
// A compliant response starts with MarkerMistake or MarkerNoMistake. Anything else is
// shown verbatim; the parser never rejects a response.
package parser

import (
	"log/slog"
	"regexp"
	"strings"
)

// Protocol markers.
const (
	MarkerMistake     = "MISTAKE_DETECTED:"
	MarkerNoMistake   = "NO_MISTAKE:"
	MarkerExplanation = "RUSSIAN_EXPLANATION:"
	RetryPhrase       = "Can you try saying it again"
)

var correctedPattern = regexp.MustCompile(`['"]([^'"]+)['"]`)

// Outcome is the structured result of parsing one response.
type Outcome struct {
	HasMistake          bool
	Text                string
	CorrectedText       string
	BriefExplanation    string
	DetailedExplanation string // secondary-language segment, "" when absent
	MistakeID           string
	Compliant           bool   // response started with a protocol marker
	Strategy            string // name of the strategy that produced BriefExplanation
}

// IDGenerator issues mistake ids.
type IDGenerator interface {
	NextMistakeID() string
}

// Option configures a Parser.
type Option func(*Parser)

// WithStrategies replaces the brief-explanation strategy table.
func WithStrategies(strategies []Strategy) Option {
	return func(p *Parser) { p.strategies = strategies }
}

// Parser applies the mistake-detection protocol to tutor responses.
type Parser struct {
	ids        IDGenerator
	strategies []Strategy
}

// New creates a parser that draws mistake ids from ids.
func New(ids IDGenerator, opts ...Option) *Parser {
	p := &Parser{ids: ids, strategies: DefaultStrategies()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HasMarker reports whether a stored response carries either protocol marker.
func HasMarker(response string) bool {
	return strings.Contains(response, MarkerMistake) || strings.Contains(response, MarkerNoMistake)
}

// Parse classifies one response. It performs no I/O.
func (p *Parser) Parse(response string) Outcome {
	return p.parse(response, p.nextID)
}

// ParseWithID classifies a response like Parse but labels a detected mistake with id
// instead of drawing a new one. Reloaded history uses it so ids stay stable.
func (p *Parser) ParseWithID(response, id string) Outcome {
	return p.parse(response, func() string { return id })
}

func (p *Parser) nextID() string {
	if p.ids == nil {
		return ""
	}
	return p.ids.NextMistakeID()
}

func (p *Parser) parse(response string, nextID func() string) Outcome {
	body := strings.TrimLeft(response, " \t\r\n")
	switch {
	case strings.HasPrefix(body, MarkerMistake):
		return p.parseMistake(strings.TrimSpace(strings.TrimPrefix(body, MarkerMistake)), nextID)
	case strings.HasPrefix(body, MarkerNoMistake):
		return Outcome{Text: strings.TrimSpace(strings.TrimPrefix(body, MarkerNoMistake)), Compliant: true}
	default:
		slog.Warn("Parser.Parse: response does not follow the protocol, showing verbatim", "length", len(response))
		return Outcome{Text: response}
	}
}

func (p *Parser) parseMistake(content string, nextID func() string) Outcome {
	english, detailed, hasBoundary := strings.Cut(content, MarkerExplanation)
	seg := Segment{
		English:     strings.TrimSpace(english),
		HasBoundary: hasBoundary,
	}
	if m := correctedPattern.FindStringSubmatch(seg.English); m != nil {
		seg.Corrected = m[1]
	}

	out := Outcome{
		HasMistake:          true,
		Text:                seg.English,
		CorrectedText:       seg.Corrected,
		DetailedExplanation: strings.TrimSpace(detailed),
		Compliant:           true,
	}
	for _, s := range p.strategies {
		if brief, ok := s.Extract(seg); ok {
			out.BriefExplanation = brief
			out.Strategy = s.Name
			break
		}
	}
	out.MistakeID = nextID()
	slog.Debug("Parser.parseMistake: parsed", "corrected", out.CorrectedText, "strategy", out.Strategy, "has_detailed", out.DetailedExplanation != "")
	return out
}
