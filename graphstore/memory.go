package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/paper"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// Vector search is a brute-force cosine scan, fine at the scale the matcher
// queries (top-k over concepts).
type MemoryStore struct {
	mu sync.RWMutex

	papers     map[string]paper.Paper
	paperOrder []string

	authors       map[string]paper.Author
	authorByORCID map[string]string
	authorByName  map[string]string

	// authorships[doi][position] = authorID
	authorships map[string]map[int]string

	cites map[string]map[string]bool

	problems     map[string]Problem
	problemOrder []string

	mentions map[string]ProblemMention

	concepts     map[string]ProblemConcept
	conceptOrder []string

	relations []Relation

	reviews         map[string]PendingReview
	reviewByMention map[string]string
	reviewOrder     []string

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		papers:          make(map[string]paper.Paper),
		authors:         make(map[string]paper.Author),
		authorByORCID:   make(map[string]string),
		authorByName:    make(map[string]string),
		authorships:     make(map[string]map[int]string),
		cites:           make(map[string]map[string]bool),
		problems:        make(map[string]Problem),
		mentions:        make(map[string]ProblemMention),
		concepts:        make(map[string]ProblemConcept),
		reviews:         make(map[string]PendingReview),
		reviewByMention: make(map[string]string),
		now:             time.Now,
	}
}

// UpsertPaper implements Store.
func (s *MemoryStore) UpsertPaper(ctx context.Context, p paper.Paper) (bool, error) {
	if p.DOI == "" {
		return false, faults.New(faults.KindValidation, "graphstore", "paper has no DOI")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.papers[p.DOI]; ok {
		s.papers[p.DOI] = paper.Merge(existing, p)
		return false, nil
	}
	s.papers[p.DOI] = p
	s.paperOrder = append(s.paperOrder, p.DOI)
	return true, nil
}

// GetPaper implements Store.
func (s *MemoryStore) GetPaper(ctx context.Context, doi string) (paper.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.papers[doi]
	if !ok {
		return paper.Paper{}, ErrNotFound
	}
	return p, nil
}

// ListPapers implements Store. Order is insertion order.
func (s *MemoryStore) ListPapers(ctx context.Context, limit, offset int) ([]paper.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageBy(s.paperOrder, limit, offset, func(doi string) paper.Paper { return s.papers[doi] }), nil
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// UpsertAuthor implements Store. Matching prefers ORCID over normalized name.
func (s *MemoryStore) UpsertAuthor(ctx context.Context, a paper.Author) (paper.Author, bool, error) {
	if a.Name == "" && a.ORCID == "" {
		return paper.Author{}, false, faults.New(faults.KindValidation, "graphstore", "author has neither name nor orcid")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	if a.ORCID != "" {
		id = s.authorByORCID[a.ORCID]
	}
	if id == "" && a.Name != "" {
		id = s.authorByName[normalizeName(a.Name)]
	}
	if id != "" {
		existing := s.authors[id]
		if existing.ORCID == "" {
			existing.ORCID = a.ORCID
		}
		if len(a.Affiliations) > len(existing.Affiliations) {
			existing.Affiliations = a.Affiliations
		}
		s.authors[id] = existing
		s.indexAuthor(existing)
		return existing, false, nil
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.authors[a.ID] = a
	s.indexAuthor(a)
	return a, true, nil
}

func (s *MemoryStore) indexAuthor(a paper.Author) {
	if a.ORCID != "" {
		s.authorByORCID[a.ORCID] = a.ID
	}
	if a.Name != "" {
		s.authorByName[normalizeName(a.Name)] = a.ID
	}
}

// SetAuthorship implements Store.
func (s *MemoryStore) SetAuthorship(ctx context.Context, doi, authorID string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.papers[doi]; !ok {
		return ErrNotFound
	}
	if _, ok := s.authors[authorID]; !ok {
		return ErrNotFound
	}
	if s.authorships[doi] == nil {
		s.authorships[doi] = make(map[int]string)
	}
	s.authorships[doi][position] = authorID
	return nil
}

// PaperAuthors implements Store, ordered by position.
func (s *MemoryStore) PaperAuthors(ctx context.Context, doi string) ([]paper.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byPos, ok := s.authorships[doi]
	if !ok {
		return nil, nil
	}
	positions := make([]int, 0, len(byPos))
	for pos := range byPos {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	out := make([]paper.Author, 0, len(positions))
	for _, pos := range positions {
		out = append(out, s.authors[byPos[pos]])
	}
	return out, nil
}

// AddCitation implements Store.
func (s *MemoryStore) AddCitation(ctx context.Context, fromDOI, toDOI string) error {
	if fromDOI == "" || toDOI == "" {
		return faults.New(faults.KindValidation, "graphstore", "citation endpoint missing")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cites[fromDOI] == nil {
		s.cites[fromDOI] = make(map[string]bool)
	}
	s.cites[fromDOI][toDOI] = true
	return nil
}

// Citations implements Store.
func (s *MemoryStore) Citations(ctx context.Context, doi string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cites[doi]))
	for to := range s.cites[doi] {
		out = append(out, to)
	}
	sort.Strings(out)
	return out, nil
}

// CreateProblem implements Store.
func (s *MemoryStore) CreateProblem(ctx context.Context, p *Problem) error {
	if len(p.Statement) < 20 {
		return faults.New(faults.KindValidation, "graphstore", "problem statement shorter than 20 chars")
	}
	if err := ValidateEmbedding(p.Embedding); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.problems[p.ID]; ok {
		return ErrDuplicate
	}
	if p.Status == "" {
		p.Status = StatusOpen
	}
	now := s.now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	s.problems[p.ID] = *p
	s.problemOrder = append(s.problemOrder, p.ID)
	return nil
}

// GetProblem implements Store.
func (s *MemoryStore) GetProblem(ctx context.Context, id string) (Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[id]
	if !ok {
		return Problem{}, ErrNotFound
	}
	return p, nil
}

// UpdateProblem implements Store. The stored version counter advances
// regardless of what the caller passed in.
func (s *MemoryStore) UpdateProblem(ctx context.Context, p Problem) (Problem, error) {
	if err := ValidateEmbedding(p.Embedding); err != nil {
		return Problem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.problems[p.ID]
	if !ok {
		return Problem{}, ErrNotFound
	}
	p.Version = existing.Version + 1
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now().UTC()
	s.problems[p.ID] = p
	return p, nil
}

// ListProblems implements Store.
func (s *MemoryStore) ListProblems(ctx context.Context, f ProblemFilter) ([]Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Problem
	for _, id := range s.problemOrder {
		p := s.problems[id]
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Domain != "" && p.Domain != f.Domain {
			continue
		}
		matched = append(matched, p)
	}
	return pageSlice(matched, f.Limit, f.Offset), nil
}

// SoftDeleteProblem implements Store.
func (s *MemoryStore) SoftDeleteProblem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.problems[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = StatusDeprecated
	p.Version++
	p.UpdatedAt = s.now().UTC()
	s.problems[id] = p
	return nil
}

// CreateMention implements Store.
func (s *MemoryStore) CreateMention(ctx context.Context, m *ProblemMention) error {
	if err := ValidateEmbedding(m.Embedding); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, ok := s.mentions[m.ID]; ok {
		return ErrDuplicate
	}
	if m.ReviewStatus == "" {
		m.ReviewStatus = ReviewPending
	}
	m.CreatedAt = s.now().UTC()
	s.mentions[m.ID] = *m
	return nil
}

// GetMention implements Store.
func (s *MemoryStore) GetMention(ctx context.Context, id string) (ProblemMention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mentions[id]
	if !ok {
		return ProblemMention{}, ErrNotFound
	}
	return m, nil
}

// SetMentionStatus implements Store.
func (s *MemoryStore) SetMentionStatus(ctx context.Context, id string, status ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[id]
	if !ok {
		return ErrNotFound
	}
	m.ReviewStatus = status
	s.mentions[id] = m
	return nil
}

// CreateConcept implements Store.
func (s *MemoryStore) CreateConcept(ctx context.Context, c *ProblemConcept) error {
	if err := ValidateEmbedding(c.Embedding); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.concepts[c.ID]; ok {
		return ErrDuplicate
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	c.CreatedAt = s.now().UTC()
	s.concepts[c.ID] = *c
	s.conceptOrder = append(s.conceptOrder, c.ID)
	return nil
}

// GetConcept implements Store.
func (s *MemoryStore) GetConcept(ctx context.Context, id string) (ProblemConcept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concepts[id]
	if !ok {
		return ProblemConcept{}, ErrNotFound
	}
	return c, nil
}

// ListConcepts implements Store.
func (s *MemoryStore) ListConcepts(ctx context.Context, domain string, limit, offset int) ([]ProblemConcept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []ProblemConcept
	for _, id := range s.conceptOrder {
		c := s.concepts[id]
		if domain != "" && c.Domain != domain {
			continue
		}
		matched = append(matched, c)
	}
	return pageSlice(matched, limit, offset), nil
}

// LinkInstanceOf implements Store.
func (s *MemoryStore) LinkInstanceOf(ctx context.Context, mentionID, conceptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[mentionID]
	if !ok {
		return ErrNotFound
	}
	c, ok := s.concepts[conceptID]
	if !ok {
		return ErrNotFound
	}
	if m.ConceptID != "" {
		return ErrDuplicate
	}
	m.ConceptID = conceptID
	m.ReviewStatus = ReviewMatched
	s.mentions[mentionID] = m
	c.MentionCount++
	s.concepts[conceptID] = c
	return nil
}

// ConceptPaperDOIs implements Store.
func (s *MemoryStore) ConceptPaperDOIs(ctx context.Context, conceptID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, m := range s.mentions {
		if m.ConceptID != conceptID || m.PaperDOI == "" || seen[m.PaperDOI] {
			continue
		}
		seen[m.PaperDOI] = true
		out = append(out, m.PaperDOI)
	}
	sort.Strings(out)
	return out, nil
}

// SearchConcepts implements Store.
func (s *MemoryStore) SearchConcepts(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]Hit, 0, len(s.concepts))
	for id, c := range s.concepts {
		if c.Embedding == nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: CosineSimilarity(embedding, c.Embedding)})
	}
	return topHits(hits, topK), nil
}

// SearchProblems implements Store.
func (s *MemoryStore) SearchProblems(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]Hit, 0, len(s.problems))
	for id, p := range s.problems {
		if p.Embedding == nil || p.Status == StatusDeprecated {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: CosineSimilarity(embedding, p.Embedding)})
	}
	return topHits(hits, topK), nil
}

// SearchMentions implements Store.
func (s *MemoryStore) SearchMentions(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]Hit, 0, len(s.mentions))
	for id, m := range s.mentions {
		if m.Embedding == nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: CosineSimilarity(embedding, m.Embedding)})
	}
	return topHits(hits, topK), nil
}

// CreateRelation implements Store.
func (s *MemoryStore) CreateRelation(ctx context.Context, r Relation) error {
	if !ValidRelationKind(r.Kind) {
		return faults.New(faults.KindValidation, "graphstore", "unknown relation kind "+string(r.Kind))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.problems[r.FromID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.problems[r.ToID]; !ok {
		return ErrNotFound
	}
	for _, rel := range s.relations {
		if rel.FromID == r.FromID && rel.ToID == r.ToID && rel.Kind == r.Kind {
			return nil
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.relations = append(s.relations, r)
	return nil
}

// Relations implements Store.
func (s *MemoryStore) Relations(ctx context.Context, problemID string) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Relation
	for _, r := range s.relations {
		if r.FromID == problemID || r.ToID == problemID {
			out = append(out, r)
		}
	}
	return out, nil
}

// SaveReview implements Store. A second enqueue for the same mention returns
// the existing entry untouched.
func (s *MemoryStore) SaveReview(ctx context.Context, r *PendingReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.reviewByMention[r.MentionID]; ok {
		*r = s.reviews[existingID]
		return nil
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.reviews[r.ID] = *r
	s.reviewByMention[r.MentionID] = r.ID
	s.reviewOrder = append(s.reviewOrder, r.ID)
	return nil
}

// GetReview implements Store.
func (s *MemoryStore) GetReview(ctx context.Context, id string) (PendingReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return PendingReview{}, ErrNotFound
	}
	return r, nil
}

// GetReviewByMention implements Store.
func (s *MemoryStore) GetReviewByMention(ctx context.Context, mentionID string) (PendingReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.reviewByMention[mentionID]
	if !ok {
		return PendingReview{}, ErrNotFound
	}
	return s.reviews[id], nil
}

// UpdateReview implements Store.
func (s *MemoryStore) UpdateReview(ctx context.Context, r PendingReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; !ok {
		return ErrNotFound
	}
	s.reviews[r.ID] = r
	return nil
}

// ListReviews implements Store, ordered by priority class then enqueue time.
func (s *MemoryStore) ListReviews(ctx context.Context, f ReviewFilter) ([]PendingReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []PendingReview
	for _, id := range s.reviewOrder {
		r := s.reviews[id]
		if f.Resolved != nil && r.Resolved() != *f.Resolved {
			continue
		}
		if f.Priority != "" && r.Priority != f.Priority {
			continue
		}
		if f.Domain != "" && r.Domain != f.Domain {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return priorityRank(matched[i].Priority) < priorityRank(matched[j].Priority)
	})
	return pageSlice(matched, f.Limit, f.Offset), nil
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Papers:    len(s.papers),
		Authors:   len(s.authors),
		Problems:  len(s.problems),
		Mentions:  len(s.mentions),
		Concepts:  len(s.concepts),
		Relations: len(s.relations),
		ByStatus:  make(map[string]int),
		ByDomain:  make(map[string]int),
	}
	for _, p := range s.problems {
		st.ByStatus[string(p.Status)]++
		if p.Domain != "" {
			st.ByDomain[p.Domain]++
		}
	}
	for _, r := range s.reviews {
		if !r.Resolved() {
			st.PendingReviews++
		}
	}
	return st, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func topHits(hits []Hit, topK int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func pageSlice[T any](in []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

func pageBy[T any](order []string, limit, offset int, get func(string) T) []T {
	ids := pageSlice(order, limit, offset)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, get(id))
	}
	return out
}
