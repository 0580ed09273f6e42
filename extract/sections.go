package extract

import (
	"regexp"
	"strings"
)

// SectionType is the closed set of paper section kinds.
type SectionType string

const (
	SectionAbstract     SectionType = "abstract"
	SectionIntroduction SectionType = "introduction"
	SectionRelatedWork  SectionType = "related_work"
	SectionBackground   SectionType = "background"
	SectionMethod       SectionType = "method"
	SectionExperiments  SectionType = "experiments"
	SectionResults      SectionType = "results"
	SectionDiscussion   SectionType = "discussion"
	SectionLimitations  SectionType = "limitations"
	SectionFutureWork   SectionType = "future_work"
	SectionConclusion   SectionType = "conclusion"
	SectionReferences   SectionType = "references"
	SectionAppendix     SectionType = "appendix"
	SectionUnknown      SectionType = "unknown"
)

// Priority orders section types for downstream extraction: lower runs
// first. Problem statements concentrate in limitations and future work.
func (t SectionType) Priority() int {
	switch t {
	case SectionLimitations:
		return 1
	case SectionFutureWork:
		return 2
	case SectionDiscussion:
		return 3
	case SectionConclusion:
		return 4
	case SectionIntroduction:
		return 5
	case SectionAbstract:
		return 6
	case SectionResults:
		return 7
	case SectionExperiments:
		return 8
	case SectionMethod:
		return 9
	case SectionBackground, SectionRelatedWork:
		return 10
	case SectionUnknown:
		return 50
	case SectionAppendix:
		return 90
	case SectionReferences:
		return 100
	}
	return 50
}

// Section is one segmented span of a paper.
type Section struct {
	Type      SectionType `json:"type"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	WordCount int         `json:"word_count"`
	Priority  int         `json:"priority"`
}

// Heading shapes recognised as section boundaries: numbered ("3. Results",
// "IV. Method"), all-caps ("CONCLUSION"), and short title-case lines.
var (
	numberedHeadingRe  = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[IVXLC]+\.)\s+(.{2,80})$`)
	allCapsHeadingRe   = regexp.MustCompile(`^[A-Z][A-Z0-9 &:,-]{2,60}$`)
	titleCaseHeadingRe = regexp.MustCompile(`^(?:[A-Z][\w()-]*\s*){1,8}$`)
)

var typeKeywords = []struct {
	t        SectionType
	keywords []string
}{
	{SectionRelatedWork, []string{"related work", "prior work", "previous work"}},
	{SectionFutureWork, []string{"future work", "future directions", "future research", "open problems", "open questions"}},
	{SectionLimitations, []string{"limitation", "threats to validity", "weaknesses"}},
	{SectionAbstract, []string{"abstract"}},
	{SectionIntroduction, []string{"introduction"}},
	{SectionBackground, []string{"background", "preliminaries", "notation"}},
	{SectionMethod, []string{"method", "approach", "model", "architecture", "proposed"}},
	{SectionExperiments, []string{"experiment", "evaluation", "setup", "implementation details"}},
	{SectionResults, []string{"result", "findings", "analysis"}},
	{SectionDiscussion, []string{"discussion"}},
	{SectionConclusion, []string{"conclusion", "concluding remarks", "summary"}},
	{SectionReferences, []string{"references", "bibliography"}},
	{SectionAppendix, []string{"appendix", "supplementary"}},
}

// ClassifyHeading maps a heading title onto the closed section-type set.
func ClassifyHeading(title string) SectionType {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, entry := range typeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.t
			}
		}
	}
	return SectionUnknown
}

// headingTitle reports whether line looks like a section heading and
// returns its title text.
func headingTitle(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 90 {
		return "", false
	}
	// Headings don't end like sentences.
	if strings.HasSuffix(line, ".") && !numberedHeadingRe.MatchString(line) {
		return "", false
	}
	if m := numberedHeadingRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if allCapsHeadingRe.MatchString(line) {
		return line, true
	}
	if titleCaseHeadingRe.MatchString(line) && len(strings.Fields(line)) <= 6 {
		// Only lines that classify to a known type count as title-case
		// headings; otherwise every capitalised short line would split.
		if ClassifyHeading(line) != SectionUnknown {
			return line, true
		}
	}
	return "", false
}

// Segment splits paper text into ordered sections. Text before the first
// recognised heading becomes an unknown section (or abstract, when it
// classifies as one).
func Segment(text string) []Section {
	lines := strings.Split(text, "\n")

	var sections []Section
	current := Section{Type: SectionUnknown, Title: ""}
	var body []string

	flush := func() {
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content == "" && current.Title == "" {
			body = body[:0]
			return
		}
		current.Content = content
		current.WordCount = len(strings.Fields(content))
		current.Priority = current.Type.Priority()
		sections = append(sections, current)
		body = body[:0]
	}

	for _, line := range lines {
		if title, ok := headingTitle(line); ok {
			flush()
			current = Section{Type: ClassifyHeading(title), Title: title}
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}

// ByPriority returns the sections whose priority is at or below threshold,
// ordered most-promising first. Segment order breaks ties.
func ByPriority(sections []Section, threshold int) []Section {
	var out []Section
	for _, s := range sections {
		if s.Priority <= threshold {
			out = append(out, s)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority < out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
