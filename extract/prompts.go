package extract

import (
	"fmt"
	"strings"

	"github.com/djjay0131/agentic-kg/llm"
)

// PromptVersion tags extraction prompts so stored problems record which
// template produced them.
const PromptVersion = "v2"

const systemPrompt = `You are a research analyst extracting open research problems from scientific papers.
Respond ONLY with a JSON object of the form:
{"problems": [{"statement": "...", "confidence": 0.0, "quoted_text": "...", "domain": "...", "assumptions": ["..."], "constraints": [{"text": "...", "type": "computational|data|methodological|theoretical", "confidence": 0.0}], "datasets": ["..."], "metrics": ["..."], "baselines": ["..."]}]}
Rules:
- statement: a self-contained research problem in at least 20 characters.
- confidence: your certainty in [0,1] that this is a genuine open problem.
- quoted_text: an exact verbatim span copied from the section that evidences the problem.
- Omit optional fields you cannot ground in the text. Return {"problems": []} when the section states no problem.`

// Section-type-specific instruction bodies. Limitations and future-work
// sections state problems explicitly; introductions bury them in motivation.
var sectionInstructions = map[SectionType]string{
	SectionLimitations:  `This is a LIMITATIONS section. Each admitted limitation is a candidate research problem. Extract what the authors say their approach cannot do, assumptions that restrict applicability, and validity threats.`,
	SectionFutureWork:   `This is a FUTURE WORK section. The authors enumerate directions they consider open. Extract each direction as a problem statement, preserving any named datasets, metrics, or baselines.`,
	SectionDiscussion:   `This is a DISCUSSION section. Extract unresolved tensions, surprising failures, and questions the authors raise without answering. Do not extract claims of success.`,
	SectionConclusion:   `This is a CONCLUSION section. Extract only forward-looking statements about what remains unsolved. Summaries of contributions are not problems.`,
	SectionIntroduction: `This is an INTRODUCTION section. The motivating gap the paper attacks is usually stated here. Extract the gap itself and any adjacent problems the authors mention but do not address.`,
}

const defaultInstruction = `Extract any explicitly stated open research problems, unanswered questions, or acknowledged gaps from this section. Be conservative: prefer fewer, better-grounded problems.`

// BuildPrompt assembles the extraction conversation for one section. It is
// a pure function of its inputs.
func BuildPrompt(paperTitle string, sec Section, maxProblems int) []llm.Message {
	instruction, ok := sectionInstructions[sec.Type]
	if !ok {
		instruction = defaultInstruction
	}

	var b strings.Builder
	b.WriteString(instruction)
	fmt.Fprintf(&b, "\nExtract at most %d problems.\n\n", maxProblems)
	if paperTitle != "" {
		fmt.Fprintf(&b, "Paper: %s\n", paperTitle)
	}
	if sec.Title != "" {
		fmt.Fprintf(&b, "Section: %s\n", sec.Title)
	}
	b.WriteString("\n---\n")
	b.WriteString(sec.Content)
	b.WriteString("\n---\n")

	return []llm.Message{
		llm.System(systemPrompt),
		llm.User(b.String()),
	}
}
