package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/llm"
)

const defaultRankingPool = 20

// RankingAgent scores open problems by tractability, data availability, and
// impact, and orders them for the human at the select_problem checkpoint.
type RankingAgent struct {
	store  graphstore.Store
	model  llm.ChatModel
	logger *zap.Logger
}

func NewRankingAgent(store graphstore.Store, model llm.ChatModel, logger *zap.Logger) *RankingAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingAgent{store: store, model: model, logger: logger}
}

func (a *RankingAgent) Name() string { return "ranking" }

const rankingSystem = `You rank research problems by how worthwhile they are to pursue next.
Score each on tractability, data availability, and impact.
Reply with JSON only: {"rankings": [{"problem_id": "...", "score": 0.0-1.0, "rationale": "..."}]}, best first.
Use only the problem ids you were given.`

type rankingReply struct {
	Rankings []RankedProblem `json:"rankings"`
}

func (a *RankingAgent) Run(ctx context.Context, st *State) error {
	filter := graphstore.ProblemFilter{
		Status: st.Params.Status,
		Domain: st.Params.Domain,
		Limit:  st.Params.Limit,
	}
	if filter.Status == "" {
		filter.Status = graphstore.StatusOpen
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultRankingPool
	}

	problems, err := a.store.ListProblems(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list problems: %w", err)
	}
	if len(problems) == 0 {
		return faults.New(faults.KindNotFound, "agents", "no problems match the ranking filter")
	}

	known := make(map[string]bool, len(problems))
	var b strings.Builder
	for _, p := range problems {
		known[p.ID] = true
		fmt.Fprintf(&b, "- id=%s domain=%s statement=%s\n", p.ID, p.Domain, p.Statement)
		if len(p.Datasets) > 0 {
			fmt.Fprintf(&b, "  datasets: %s\n", strings.Join(p.Datasets, ", "))
		}
	}

	reply, err := llm.Structured[rankingReply](ctx, a.model, []llm.Message{
		llm.System(rankingSystem),
		llm.User("Problems:\n" + b.String()),
	})
	if err != nil {
		return fmt.Errorf("failed to rank problems: %w", err)
	}

	ranked := reply.Rankings[:0]
	for _, r := range reply.Rankings {
		if !known[r.ProblemID] {
			a.logger.Warn("ranking returned unknown problem id", zap.String("problem_id", r.ProblemID))
			continue
		}
		ranked = append(ranked, r)
	}
	if len(ranked) == 0 {
		return faults.New(faults.KindLLM, "agents", "ranking returned no usable candidates")
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	st.Ranked = ranked
	return nil
}
