package graphstore

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/paper"
)

// runStores runs fn against every Store implementation.
func runStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

func testEmbedding(seed float32) []float32 {
	v := make([]float32, EmbeddingDim)
	for i := range v {
		v[i] = seed
	}
	v[0] = 1
	return v
}

func TestUpsertPaper(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := paper.Paper{DOI: "10.1/a", Title: "First", CitationCount: 10}

		created, err := s.UpsertPaper(ctx, p)
		if err != nil || !created {
			t.Fatalf("create: created=%v err=%v", created, err)
		}
		created, err = s.UpsertPaper(ctx, paper.Paper{DOI: "10.1/a", CitationCount: 25, IsOpenAccess: true})
		if err != nil || created {
			t.Fatalf("merge: created=%v err=%v", created, err)
		}

		got, err := s.GetPaper(ctx, "10.1/a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != "First" || got.CitationCount != 25 || !got.IsOpenAccess {
			t.Errorf("merge result = %+v", got)
		}

		if _, err := s.GetPaper(ctx, "10.1/missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing paper: %v", err)
		}
		if _, err := s.UpsertPaper(ctx, paper.Paper{Title: "no doi"}); !faults.Is(err, faults.KindValidation) {
			t.Errorf("no-DOI upsert: %v", err)
		}
	})
}

func TestAuthorsAndAuthorship(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.UpsertPaper(ctx, paper.Paper{DOI: "10.1/a"}); err != nil {
			t.Fatal(err)
		}

		a1, created, err := s.UpsertAuthor(ctx, paper.Author{Name: "Jane Doe", ORCID: "0000-0001"})
		if err != nil || !created {
			t.Fatalf("first upsert: %v created=%v", err, created)
		}
		// Same ORCID, different spelling: matched, not duplicated.
		a2, created, err := s.UpsertAuthor(ctx, paper.Author{Name: "J. Doe", ORCID: "0000-0001"})
		if err != nil || created || a2.ID != a1.ID {
			t.Fatalf("orcid match: %v created=%v id=%s want=%s", err, created, a2.ID, a1.ID)
		}
		// No ORCID, normalized-name match.
		a3, created, err := s.UpsertAuthor(ctx, paper.Author{Name: "  jane   DOE "})
		if err != nil || created || a3.ID != a1.ID {
			t.Fatalf("name match: %v created=%v id=%s want=%s", err, created, a3.ID, a1.ID)
		}

		b, _, err := s.UpsertAuthor(ctx, paper.Author{Name: "Ada Lovelace"})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SetAuthorship(ctx, "10.1/a", b.ID, 1); err != nil {
			t.Fatal(err)
		}
		if err := s.SetAuthorship(ctx, "10.1/a", a1.ID, 0); err != nil {
			t.Fatal(err)
		}
		// Re-writing position 1 replaces, keeping exactly one author per slot.
		if err := s.SetAuthorship(ctx, "10.1/a", a1.ID, 1); err != nil {
			t.Fatal(err)
		}
		if err := s.SetAuthorship(ctx, "10.1/a", b.ID, 1); err != nil {
			t.Fatal(err)
		}

		authors, err := s.PaperAuthors(ctx, "10.1/a")
		if err != nil {
			t.Fatal(err)
		}
		if len(authors) != 2 || authors[0].ID != a1.ID || authors[1].ID != b.ID {
			t.Errorf("authors = %+v", authors)
		}
	})
}

func TestCitations(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.AddCitation(ctx, "10.1/a", "10.1/b"); err != nil {
			t.Fatal(err)
		}
		if err := s.AddCitation(ctx, "10.1/a", "10.1/b"); err != nil {
			t.Fatalf("idempotent add: %v", err)
		}
		if err := s.AddCitation(ctx, "10.1/a", "10.1/c"); err != nil {
			t.Fatal(err)
		}
		out, err := s.Citations(ctx, "10.1/a")
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 {
			t.Errorf("citations = %v", out)
		}
	})
}

func TestProblemLifecycle(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := &Problem{
			Statement: "Improve transformer attention efficiency at long context",
			Domain:    "nlp",
			Embedding: testEmbedding(0.1),
		}
		if err := s.CreateProblem(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
		if p.Version != 1 || p.Status != StatusOpen {
			t.Errorf("defaults: version=%d status=%s", p.Version, p.Status)
		}

		got, err := s.GetProblem(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		got.Domain = "ml"
		updated, err := s.UpdateProblem(ctx, got)
		if err != nil {
			t.Fatal(err)
		}
		if updated.Version != 2 {
			t.Errorf("version after update = %d, want 2", updated.Version)
		}

		if err := s.SoftDeleteProblem(ctx, p.ID); err != nil {
			t.Fatal(err)
		}
		got, err = s.GetProblem(ctx, p.ID)
		if err != nil {
			t.Fatalf("soft-deleted problem must remain readable: %v", err)
		}
		if got.Status != StatusDeprecated {
			t.Errorf("status = %s", got.Status)
		}
		if got.Version != 3 {
			t.Errorf("version after soft delete = %d, want 3", got.Version)
		}
	})
}

func TestProblemValidation(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.CreateProblem(ctx, &Problem{Statement: "too short"})
		if !faults.Is(err, faults.KindValidation) {
			t.Errorf("short statement: %v", err)
		}
		err = s.CreateProblem(ctx, &Problem{
			Statement: "A statement of sufficient length for validation",
			Embedding: make([]float32, 3),
		})
		if !faults.Is(err, faults.KindValidation) {
			t.Errorf("wrong dimension: %v", err)
		}
	})
}

func TestListProblemsFilter(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mk := func(domain string, status ProblemStatus) {
			p := &Problem{Statement: "A long enough problem statement here", Domain: domain, Status: status}
			if err := s.CreateProblem(ctx, p); err != nil {
				t.Fatal(err)
			}
		}
		mk("nlp", StatusOpen)
		mk("nlp", StatusResolved)
		mk("cv", StatusOpen)

		open, err := s.ListProblems(ctx, ProblemFilter{Status: StatusOpen})
		if err != nil {
			t.Fatal(err)
		}
		if len(open) != 2 {
			t.Errorf("open = %d", len(open))
		}
		nlpOpen, err := s.ListProblems(ctx, ProblemFilter{Status: StatusOpen, Domain: "nlp"})
		if err != nil {
			t.Fatal(err)
		}
		if len(nlpOpen) != 1 {
			t.Errorf("nlp open = %d", len(nlpOpen))
		}
		paged, err := s.ListProblems(ctx, ProblemFilter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(paged) != 1 {
			t.Errorf("paged = %d", len(paged))
		}
		// A negative offset pages from the start instead of panicking.
		neg, err := s.ListProblems(ctx, ProblemFilter{Offset: -1})
		if err != nil {
			t.Fatal(err)
		}
		if len(neg) != 3 {
			t.Errorf("negative offset = %d", len(neg))
		}
	})
}

func TestInstanceOfKeepsCountInSync(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := &ProblemConcept{CanonicalStatement: "Attention is quadratic in sequence length", Domain: "nlp"}
		if err := s.CreateConcept(ctx, c); err != nil {
			t.Fatal(err)
		}

		for i, doi := range []string{"10.1/a", "10.1/b"} {
			m := &ProblemMention{Statement: "mention", PaperDOI: doi, Domain: "nlp"}
			if err := s.CreateMention(ctx, m); err != nil {
				t.Fatal(err)
			}
			if err := s.LinkInstanceOf(ctx, m.ID, c.ID); err != nil {
				t.Fatalf("link %d: %v", i, err)
			}
			// Linking twice is a duplicate, not a double count.
			if err := s.LinkInstanceOf(ctx, m.ID, c.ID); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("relink: %v", err)
			}

			got, err := s.GetConcept(ctx, c.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.MentionCount != i+1 {
				t.Errorf("mention_count = %d, want %d", got.MentionCount, i+1)
			}
			mention, err := s.GetMention(ctx, m.ID)
			if err != nil {
				t.Fatal(err)
			}
			if mention.ReviewStatus != ReviewMatched || mention.ConceptID != c.ID {
				t.Errorf("mention after link = %+v", mention)
			}
		}

		dois, err := s.ConceptPaperDOIs(ctx, c.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(dois) != 2 || dois[0] != "10.1/a" || dois[1] != "10.1/b" {
			t.Errorf("concept papers = %v", dois)
		}
	})
}

func TestSearchConceptsRanksByCosine(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		near := testEmbedding(0.5)
		far := make([]float32, EmbeddingDim)
		far[1] = 1

		a := &ProblemConcept{CanonicalStatement: "near", Embedding: near}
		b := &ProblemConcept{CanonicalStatement: "far", Embedding: far}
		if err := s.CreateConcept(ctx, a); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateConcept(ctx, b); err != nil {
			t.Fatal(err)
		}

		hits, err := s.SearchConcepts(ctx, testEmbedding(0.5), 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 2 {
			t.Fatalf("hits = %d", len(hits))
		}
		if hits[0].ID != a.ID {
			t.Errorf("best hit = %s, want %s", hits[0].ID, a.ID)
		}
		if hits[0].Similarity < 0.999 {
			t.Errorf("self similarity = %f", hits[0].Similarity)
		}
		if hits[0].Similarity <= hits[1].Similarity {
			t.Error("hits not in descending order")
		}

		one, err := s.SearchConcepts(ctx, testEmbedding(0.5), 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(one) != 1 {
			t.Errorf("topK not applied: %d", len(one))
		}
	})
}

func TestRelations(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := &Problem{Statement: "First problem statement long enough"}
		b := &Problem{Statement: "Second problem statement long enough"}
		if err := s.CreateProblem(ctx, a); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateProblem(ctx, b); err != nil {
			t.Fatal(err)
		}

		r := Relation{FromID: a.ID, ToID: b.ID, Kind: RelExtends, Confidence: 0.9}
		if err := s.CreateRelation(ctx, r); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateRelation(ctx, r); err != nil {
			t.Fatalf("duplicate edge must be a no-op: %v", err)
		}
		if err := s.CreateRelation(ctx, Relation{FromID: a.ID, ToID: "missing", Kind: RelExtends}); !errors.Is(err, ErrNotFound) {
			t.Errorf("dangling endpoint: %v", err)
		}
		if err := s.CreateRelation(ctx, Relation{FromID: a.ID, ToID: b.ID, Kind: "FOLLOWS"}); !faults.Is(err, faults.KindValidation) {
			t.Errorf("unknown kind: %v", err)
		}

		forA, err := s.Relations(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		forB, err := s.Relations(ctx, b.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(forA) != 1 || len(forB) != 1 {
			t.Errorf("relations: from=%d to=%d", len(forA), len(forB))
		}
	})
}

func TestReviewQueuePersistence(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		r := &PendingReview{
			MentionID: "m1",
			Domain:    "nlp",
			Priority:  PriorityNormal,
		}
		if err := s.SaveReview(ctx, r); err != nil {
			t.Fatal(err)
		}
		firstID := r.ID

		// Idempotent on mention: a second save returns the original entry.
		again := &PendingReview{MentionID: "m1", Priority: PriorityHigh}
		if err := s.SaveReview(ctx, again); err != nil {
			t.Fatal(err)
		}
		if again.ID != firstID || again.Priority != PriorityNormal {
			t.Errorf("re-enqueue replaced entry: %+v", again)
		}

		high := &PendingReview{MentionID: "m2", Priority: PriorityHigh}
		if err := s.SaveReview(ctx, high); err != nil {
			t.Fatal(err)
		}

		unresolved := false
		list, err := s.ListReviews(ctx, ReviewFilter{Resolved: &unresolved})
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 || list[0].Priority != PriorityHigh {
			t.Errorf("list order = %+v", list)
		}

		got, err := s.GetReview(ctx, firstID)
		if err != nil {
			t.Fatal(err)
		}
		got.Resolution = &Resolution{Decision: "create_new", Reviewer: "alice"}
		if err := s.UpdateReview(ctx, got); err != nil {
			t.Fatal(err)
		}
		resolved := true
		list, err = s.ListReviews(ctx, ReviewFilter{Resolved: &resolved})
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 || list[0].ID != firstID {
			t.Errorf("resolved list = %+v", list)
		}
	})
}

func TestStats(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.UpsertPaper(ctx, paper.Paper{DOI: "10.1/a"}); err != nil {
			t.Fatal(err)
		}
		for _, d := range []string{"nlp", "nlp", "cv"} {
			p := &Problem{Statement: "A long enough problem statement here", Domain: d}
			if err := s.CreateProblem(ctx, p); err != nil {
				t.Fatal(err)
			}
		}
		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.Papers != 1 || st.Problems != 3 {
			t.Errorf("stats = %+v", st)
		}
		if st.ByDomain["nlp"] != 2 || st.ByStatus["open"] != 3 {
			t.Errorf("histograms = %+v", st)
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	if got := CosineSimilarity(a, a); got < 0.999 {
		t.Errorf("self = %f", got)
	}
	if got := CosineSimilarity(a, b); got != 0 {
		t.Errorf("orthogonal = %f", got)
	}
	if got := CosineSimilarity(a, []float32{1, 0}); got != 0 {
		t.Errorf("mismatched = %f", got)
	}
}

func TestValidateEmbedding(t *testing.T) {
	if err := ValidateEmbedding(nil); err != nil {
		t.Errorf("nil: %v", err)
	}
	if err := ValidateEmbedding(make([]float32, EmbeddingDim)); err != nil {
		t.Errorf("correct dim: %v", err)
	}
	if err := ValidateEmbedding(make([]float32, 10)); err == nil {
		t.Error("wrong dim accepted")
	}
	bad := make([]float32, EmbeddingDim)
	bad[7] = float32(math.Inf(1))
	if err := ValidateEmbedding(bad); err == nil {
		t.Error("non-finite accepted")
	}
}
