package reasoning

import (
	"regexp"
	"strings"
)

// Fact sources.
const (
	SourceExtraction = "extraction"
	SourceInference  = "inference"
)

// ExtractionConfidence is assigned to every extracted fact.
const ExtractionConfidence = 0.7

// minFactLength drops fragments too short to mean anything.
const minFactLength = 10

// Fact is a candidate fact found in free text.
type Fact struct {
	Kind       string
	Value      string
	Confidence float64
	Source     string
}

type template struct {
	kind   string
	source string
	re     *regexp.Regexp
	// whole uses the entire match instead of the first group.
	whole bool
}

var templates = []template{
	{kind: "decision", source: SourceExtraction, re: regexp.MustCompile(`(?i)\b(?:decided|chose|agreed|opted)\s+(?:to\s+|on\s+|that\s+)?([^.!?\n]+)`)},
	{kind: "learning", source: SourceExtraction, re: regexp.MustCompile(`(?i)\b(?:learned|realized|discovered|found out)\s+(?:that\s+)?([^.!?\n]+)`)},
	{kind: "fix", source: SourceExtraction, re: regexp.MustCompile(`(?i)\b(?:fixed|resolved|solved|patched)\s+([^.!?\n]+)`)},
	{kind: "causal", source: SourceInference, whole: true, re: regexp.MustCompile(`(?i)[^.!?\n]+?\s+(?:because|due to|caused by|led to|resulted in)\s+[^.!?\n]+`)},
	{kind: "requirement", source: SourceExtraction, re: regexp.MustCompile(`(?i)\b(?:must|needs? to|required to|have to)\s+([^.!?\n]+)`)},
}

// Extract scans text with every template and returns the distinct facts
// found, in template order.
func Extract(text string) []Fact {
	var facts []Fact
	seen := make(map[string]bool)
	for _, t := range templates {
		for _, m := range t.re.FindAllStringSubmatch(text, -1) {
			value := m[0]
			if !t.whole {
				value = m[1]
			}
			value = strings.TrimSpace(value)
			if len(value) < minFactLength {
				continue
			}
			key := t.kind + "\x00" + strings.ToLower(value)
			if seen[key] {
				continue
			}
			seen[key] = true
			facts = append(facts, Fact{Kind: t.kind, Value: value, Confidence: ExtractionConfidence, Source: t.source})
		}
	}
	return facts
}
