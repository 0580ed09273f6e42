package extract

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/llm"
	"github.com/djjay0131/agentic-kg/retry"
)

const minStatementLen = 20

// ExtractedProblem is one typed record produced from a section.
type ExtractedProblem struct {
	Statement   string                  `json:"statement"`
	Confidence  float64                 `json:"confidence"`
	QuotedText  string                  `json:"quoted_text"`
	Domain      string                  `json:"domain,omitempty"`
	Assumptions []string                `json:"assumptions,omitempty"`
	Constraints []graphstore.Constraint `json:"constraints,omitempty"`
	Datasets    []string                `json:"datasets,omitempty"`
	Metrics     []string                `json:"metrics,omitempty"`
	Baselines   []string                `json:"baselines,omitempty"`
	// Section records where in the paper the problem was found.
	Section SectionType `json:"section,omitempty"`
	// PromptVersion records which template produced the record.
	PromptVersion string `json:"prompt_version,omitempty"`
}

// ExtractorOptions tune a ProblemExtractor.
type ExtractorOptions struct {
	// ConfidenceThreshold drops records the model was unsure about.
	ConfidenceThreshold float64
	// MaxPerSection caps records per section, keeping the highest-confidence.
	MaxPerSection int
	// PriorityThreshold skips sections whose priority exceeds it.
	PriorityThreshold int
	// RetryEmpty re-asks once when the first reply held no records.
	RetryEmpty bool
	Policy     retry.Policy
}

// DefaultExtractorOptions mirror the tuning the extraction pipeline runs
// with in production.
func DefaultExtractorOptions() ExtractorOptions {
	return ExtractorOptions{
		ConfidenceThreshold: 0.5,
		MaxPerSection:       5,
		PriorityThreshold:   6,
		RetryEmpty:          true,
		Policy:              retry.DefaultPolicy(),
	}
}

// ProblemExtractor produces typed problem records from paper sections via
// structured LLM calls.
type ProblemExtractor struct {
	model  llm.ChatModel
	opts   ExtractorOptions
	logger *zap.Logger
}

// NewProblemExtractor creates an extractor.
func NewProblemExtractor(model llm.ChatModel, opts ExtractorOptions, logger *zap.Logger) *ProblemExtractor {
	if opts.MaxPerSection <= 0 {
		opts.MaxPerSection = 5
	}
	if opts.PriorityThreshold <= 0 {
		opts.PriorityThreshold = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProblemExtractor{model: model, opts: opts, logger: logger}
}

type extractionReply struct {
	Problems []ExtractedProblem `json:"problems"`
}

// ExtractSection runs one structured call for a section and validates the
// records: low confidence, short statements, and quoted text that does not
// appear verbatim in the section are dropped.
func (e *ProblemExtractor) ExtractSection(ctx context.Context, paperTitle string, sec Section) ([]ExtractedProblem, error) {
	records, err := e.ask(ctx, paperTitle, sec)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && e.opts.RetryEmpty {
		records, err = e.ask(ctx, paperTitle, sec)
		if err != nil {
			return nil, err
		}
	}

	valid := records[:0]
	for _, r := range records {
		if r.Confidence < e.opts.ConfidenceThreshold {
			continue
		}
		if len(strings.TrimSpace(r.Statement)) < minStatementLen {
			continue
		}
		if r.QuotedText == "" || !strings.Contains(sec.Content, r.QuotedText) {
			e.logger.Debug("dropping record with non-verbatim quote",
				zap.String("statement", r.Statement))
			continue
		}
		r.Section = sec.Type
		r.PromptVersion = PromptVersion
		valid = append(valid, r)
	}

	if len(valid) > e.opts.MaxPerSection {
		sort.SliceStable(valid, func(i, j int) bool {
			return valid[i].Confidence > valid[j].Confidence
		})
		valid = valid[:e.opts.MaxPerSection]
	}
	return valid, nil
}

func (e *ProblemExtractor) ask(ctx context.Context, paperTitle string, sec Section) ([]ExtractedProblem, error) {
	messages := BuildPrompt(paperTitle, sec, e.opts.MaxPerSection)
	reply, err := retry.Do(ctx, e.opts.Policy, e.logger, "extract", func(ctx context.Context) (extractionReply, error) {
		return llm.Structured[extractionReply](ctx, e.model, messages)
	})
	if err != nil {
		return nil, err
	}
	return reply.Problems, nil
}

// ExtractAll runs extraction over every section at or under the priority
// threshold, in priority order. A failing section is logged and skipped;
// the error comes back only when every eligible section fails.
func (e *ProblemExtractor) ExtractAll(ctx context.Context, paperTitle string, sections []Section) ([]ExtractedProblem, error) {
	eligible := ByPriority(sections, e.opts.PriorityThreshold)
	var (
		out      []ExtractedProblem
		firstErr error
		failures int
	)
	for _, sec := range eligible {
		records, err := e.ExtractSection(ctx, paperTitle, sec)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Warn("section extraction failed",
				zap.String("section", string(sec.Type)),
				zap.Error(err))
			continue
		}
		out = append(out, records...)
	}
	if len(eligible) > 0 && failures == len(eligible) {
		return nil, firstErr
	}
	return out, nil
}
