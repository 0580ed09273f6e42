package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/paper"
)

// schemaVersion is the version the migration list below produces. The
// schema_version table records what has been applied; migrations are
// idempotent and version-gated, so re-running against a current database is
// a no-op.
const schemaVersion = 1

var migrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS papers (
			doi        TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS authors (
			id       TEXT PRIMARY KEY,
			orcid    TEXT,
			name_key TEXT,
			data     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_authors_orcid ON authors(orcid)`,
		`CREATE INDEX IF NOT EXISTS idx_authors_name ON authors(name_key)`,
		`CREATE TABLE IF NOT EXISTS authorships (
			doi       TEXT NOT NULL,
			position  INTEGER NOT NULL,
			author_id TEXT NOT NULL,
			PRIMARY KEY (doi, position)
		)`,
		`CREATE TABLE IF NOT EXISTS citations (
			from_doi TEXT NOT NULL,
			to_doi   TEXT NOT NULL,
			PRIMARY KEY (from_doi, to_doi)
		)`,
		`CREATE TABLE IF NOT EXISTS problems (
			id      TEXT PRIMARY KEY,
			status  TEXT NOT NULL,
			domain  TEXT,
			version INTEGER NOT NULL,
			data    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_status ON problems(status)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_domain ON problems(domain)`,
		`CREATE TABLE IF NOT EXISTS mentions (
			id            TEXT PRIMARY KEY,
			paper_doi     TEXT,
			concept_id    TEXT,
			review_status TEXT NOT NULL,
			data          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mentions_concept ON mentions(concept_id)`,
		`CREATE TABLE IF NOT EXISTS concepts (
			id            TEXT PRIMARY KEY,
			domain        TEXT,
			mention_count INTEGER NOT NULL DEFAULT 0,
			data          TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS relations (
			from_id    TEXT NOT NULL,
			to_id      TEXT NOT NULL,
			kind       TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (from_id, to_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id         TEXT PRIMARY KEY,
			mention_id TEXT NOT NULL UNIQUE,
			domain     TEXT,
			priority   TEXT NOT NULL,
			resolved   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			data       TEXT NOT NULL
		)`,
	},
}

// SQLiteStore is a single-file Store. WAL mode allows concurrent reads;
// writes go through the one connection SQLite supports.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and applies any
// pending schema migrations. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}
	var current sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	for v := int(current.Int64) + 1; v <= schemaVersion; v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", v, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (version) VALUES (?)`, v); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v, err)
		}
	}
	return nil
}

// SchemaVersion reports the applied schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// UpsertPaper implements Store.
func (s *SQLiteStore) UpsertPaper(ctx context.Context, p paper.Paper) (bool, error) {
	if p.DOI == "" {
		return false, faults.New(faults.KindValidation, "graphstore", "paper has no DOI")
	}
	var existingData string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM papers WHERE doi = ?`, p.DOI).Scan(&existingData)
	switch {
	case err == nil:
		var existing paper.Paper
		if err := json.Unmarshal([]byte(existingData), &existing); err != nil {
			return false, fmt.Errorf("failed to decode paper %s: %w", p.DOI, err)
		}
		merged := paper.Merge(existing, p)
		data, err := json.Marshal(merged)
		if err != nil {
			return false, fmt.Errorf("failed to encode paper: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE papers SET data = ? WHERE doi = ?`, string(data), p.DOI)
		return false, err
	case errors.Is(err, sql.ErrNoRows):
		data, err := json.Marshal(p)
		if err != nil {
			return false, fmt.Errorf("failed to encode paper: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO papers (doi, data, created_at) VALUES (?, ?, ?)`,
			p.DOI, string(data), time.Now().UTC().Format(time.RFC3339Nano))
		return true, err
	default:
		return false, err
	}
}

// GetPaper implements Store.
func (s *SQLiteStore) GetPaper(ctx context.Context, doi string) (paper.Paper, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM papers WHERE doi = ?`, doi).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return paper.Paper{}, ErrNotFound
	}
	if err != nil {
		return paper.Paper{}, err
	}
	var p paper.Paper
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return paper.Paper{}, fmt.Errorf("failed to decode paper %s: %w", doi, err)
	}
	return p, nil
}

// ListPapers implements Store.
func (s *SQLiteStore) ListPapers(ctx context.Context, limit, offset int) ([]paper.Paper, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM papers ORDER BY created_at LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []paper.Paper
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p paper.Paper
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to decode paper row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertAuthor implements Store.
func (s *SQLiteStore) UpsertAuthor(ctx context.Context, a paper.Author) (paper.Author, bool, error) {
	if a.Name == "" && a.ORCID == "" {
		return paper.Author{}, false, faults.New(faults.KindValidation, "graphstore", "author has neither name nor orcid")
	}

	var data string
	var err error
	if a.ORCID != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT data FROM authors WHERE orcid = ?`, a.ORCID).Scan(&data)
	} else {
		err = sql.ErrNoRows
	}
	if errors.Is(err, sql.ErrNoRows) && a.Name != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT data FROM authors WHERE name_key = ?`, normalizeName(a.Name)).Scan(&data)
	}
	switch {
	case err == nil:
		var existing paper.Author
		if err := json.Unmarshal([]byte(data), &existing); err != nil {
			return paper.Author{}, false, fmt.Errorf("failed to decode author: %w", err)
		}
		if existing.ORCID == "" {
			existing.ORCID = a.ORCID
		}
		if len(a.Affiliations) > len(existing.Affiliations) {
			existing.Affiliations = a.Affiliations
		}
		updated, merr := json.Marshal(existing)
		if merr != nil {
			return paper.Author{}, false, fmt.Errorf("failed to encode author: %w", merr)
		}
		_, werr := s.db.ExecContext(ctx,
			`UPDATE authors SET orcid = NULLIF(?, ''), name_key = ?, data = ? WHERE id = ?`,
			existing.ORCID, normalizeName(existing.Name), string(updated), existing.ID)
		return existing, false, werr
	case errors.Is(err, sql.ErrNoRows):
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		encoded, merr := json.Marshal(a)
		if merr != nil {
			return paper.Author{}, false, fmt.Errorf("failed to encode author: %w", merr)
		}
		_, werr := s.db.ExecContext(ctx,
			`INSERT INTO authors (id, orcid, name_key, data) VALUES (?, NULLIF(?, ''), ?, ?)`,
			a.ID, a.ORCID, normalizeName(a.Name), string(encoded))
		return a, true, werr
	default:
		return paper.Author{}, false, err
	}
}

// SetAuthorship implements Store.
func (s *SQLiteStore) SetAuthorship(ctx context.Context, doi, authorID string, position int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO authorships (doi, position, author_id) VALUES (?, ?, ?)
		 ON CONFLICT (doi, position) DO UPDATE SET author_id = excluded.author_id`,
		doi, position, authorID)
	return err
}

// PaperAuthors implements Store.
func (s *SQLiteStore) PaperAuthors(ctx context.Context, doi string) ([]paper.Author, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.data FROM authorships s JOIN authors a ON a.id = s.author_id
		 WHERE s.doi = ? ORDER BY s.position`, doi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []paper.Author
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a paper.Author
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("failed to decode author row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddCitation implements Store.
func (s *SQLiteStore) AddCitation(ctx context.Context, fromDOI, toDOI string) error {
	if fromDOI == "" || toDOI == "" {
		return faults.New(faults.KindValidation, "graphstore", "citation endpoint missing")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO citations (from_doi, to_doi) VALUES (?, ?)`, fromDOI, toDOI)
	return err
}

// Citations implements Store.
func (s *SQLiteStore) Citations(ctx context.Context, doi string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_doi FROM citations WHERE from_doi = ? ORDER BY to_doi`, doi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return nil, err
		}
		out = append(out, to)
	}
	return out, rows.Err()
}

// CreateProblem implements Store.
func (s *SQLiteStore) CreateProblem(ctx context.Context, p *Problem) error {
	if len(p.Statement) < 20 {
		return faults.New(faults.KindValidation, "graphstore", "problem statement shorter than 20 chars")
	}
	if err := ValidateEmbedding(p.Embedding); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusOpen
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode problem: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO problems (id, status, domain, version, data) VALUES (?, ?, ?, ?, ?)`,
		p.ID, string(p.Status), p.Domain, p.Version, string(data))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}

// GetProblem implements Store.
func (s *SQLiteStore) GetProblem(ctx context.Context, id string) (Problem, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM problems WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Problem{}, ErrNotFound
	}
	if err != nil {
		return Problem{}, err
	}
	var p Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Problem{}, fmt.Errorf("failed to decode problem %s: %w", id, err)
	}
	return p, nil
}

// UpdateProblem implements Store.
func (s *SQLiteStore) UpdateProblem(ctx context.Context, p Problem) (Problem, error) {
	if err := ValidateEmbedding(p.Embedding); err != nil {
		return Problem{}, err
	}
	existing, err := s.GetProblem(ctx, p.ID)
	if err != nil {
		return Problem{}, err
	}
	p.Version = existing.Version + 1
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return Problem{}, fmt.Errorf("failed to encode problem: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE problems SET status = ?, domain = ?, version = ?, data = ? WHERE id = ?`,
		string(p.Status), p.Domain, p.Version, string(data), p.ID)
	return p, err
}

// ListProblems implements Store.
func (s *SQLiteStore) ListProblems(ctx context.Context, f ProblemFilter) ([]Problem, error) {
	query := `SELECT data FROM problems WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, f.Domain)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY rowid LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Problem
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p Problem
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to decode problem row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SoftDeleteProblem implements Store.
func (s *SQLiteStore) SoftDeleteProblem(ctx context.Context, id string) error {
	p, err := s.GetProblem(ctx, id)
	if err != nil {
		return err
	}
	p.Status = StatusDeprecated
	_, err = s.UpdateProblem(ctx, p)
	return err
}

// CreateMention implements Store.
func (s *SQLiteStore) CreateMention(ctx context.Context, m *ProblemMention) error {
	if err := ValidateEmbedding(m.Embedding); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReviewStatus == "" {
		m.ReviewStatus = ReviewPending
	}
	m.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mention: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mentions (id, paper_doi, concept_id, review_status, data) VALUES (?, ?, NULLIF(?, ''), ?, ?)`,
		m.ID, m.PaperDOI, m.ConceptID, string(m.ReviewStatus), string(data))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}

// GetMention implements Store.
func (s *SQLiteStore) GetMention(ctx context.Context, id string) (ProblemMention, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM mentions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ProblemMention{}, ErrNotFound
	}
	if err != nil {
		return ProblemMention{}, err
	}
	var m ProblemMention
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return ProblemMention{}, fmt.Errorf("failed to decode mention %s: %w", id, err)
	}
	return m, nil
}

// SetMentionStatus implements Store.
func (s *SQLiteStore) SetMentionStatus(ctx context.Context, id string, status ReviewStatus) error {
	m, err := s.GetMention(ctx, id)
	if err != nil {
		return err
	}
	m.ReviewStatus = status
	return s.writeMention(ctx, m)
}

func (s *SQLiteStore) writeMention(ctx context.Context, m ProblemMention) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mention: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE mentions SET concept_id = NULLIF(?, ''), review_status = ?, data = ? WHERE id = ?`,
		m.ConceptID, string(m.ReviewStatus), string(data), m.ID)
	return err
}

// CreateConcept implements Store.
func (s *SQLiteStore) CreateConcept(ctx context.Context, c *ProblemConcept) error {
	if err := ValidateEmbedding(c.Embedding); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	c.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode concept: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO concepts (id, domain, mention_count, data) VALUES (?, ?, ?, ?)`,
		c.ID, c.Domain, c.MentionCount, string(data))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}

// GetConcept implements Store.
func (s *SQLiteStore) GetConcept(ctx context.Context, id string) (ProblemConcept, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM concepts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ProblemConcept{}, ErrNotFound
	}
	if err != nil {
		return ProblemConcept{}, err
	}
	var c ProblemConcept
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return ProblemConcept{}, fmt.Errorf("failed to decode concept %s: %w", id, err)
	}
	return c, nil
}

// ListConcepts implements Store.
func (s *SQLiteStore) ListConcepts(ctx context.Context, domain string, limit, offset int) ([]ProblemConcept, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT data FROM concepts`
	var args []any
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY rowid LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProblemConcept
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c ProblemConcept
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to decode concept row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LinkInstanceOf implements Store. The edge write, the mention update, and
// the mention_count bump commit in one transaction so the count always
// matches the edge degree.
func (s *SQLiteStore) LinkInstanceOf(ctx context.Context, mentionID, conceptID string) error {
	m, err := s.GetMention(ctx, mentionID)
	if err != nil {
		return err
	}
	if m.ConceptID != "" {
		return ErrDuplicate
	}
	c, err := s.GetConcept(ctx, conceptID)
	if err != nil {
		return err
	}

	m.ConceptID = conceptID
	m.ReviewStatus = ReviewMatched
	mData, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mention: %w", err)
	}
	c.MentionCount++
	cData, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode concept: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE mentions SET concept_id = ?, review_status = ?, data = ? WHERE id = ?`,
		conceptID, string(ReviewMatched), string(mData), mentionID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE concepts SET mention_count = ?, data = ? WHERE id = ?`,
		c.MentionCount, string(cData), conceptID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ConceptPaperDOIs implements Store.
func (s *SQLiteStore) ConceptPaperDOIs(ctx context.Context, conceptID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT paper_doi FROM mentions WHERE concept_id = ? AND paper_doi != '' ORDER BY paper_doi`,
		conceptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var doi string
		if err := rows.Scan(&doi); err != nil {
			return nil, err
		}
		out = append(out, doi)
	}
	return out, rows.Err()
}

// SearchConcepts implements Store. SQLite has no vector index; the scan
// loads embeddings and ranks by cosine in process.
func (s *SQLiteStore) SearchConcepts(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	return s.scanEmbeddings(ctx, `SELECT id, data FROM concepts`, embedding, topK,
		func(data []byte) ([]float32, bool) {
			var c ProblemConcept
			if json.Unmarshal(data, &c) != nil {
				return nil, false
			}
			return c.Embedding, true
		})
}

// SearchProblems implements Store. Deprecated problems are excluded.
func (s *SQLiteStore) SearchProblems(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	return s.scanEmbeddings(ctx, `SELECT id, data FROM problems WHERE status != 'deprecated'`, embedding, topK,
		func(data []byte) ([]float32, bool) {
			var p Problem
			if json.Unmarshal(data, &p) != nil {
				return nil, false
			}
			return p.Embedding, true
		})
}

// SearchMentions implements Store.
func (s *SQLiteStore) SearchMentions(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	return s.scanEmbeddings(ctx, `SELECT id, data FROM mentions`, embedding, topK,
		func(data []byte) ([]float32, bool) {
			var m ProblemMention
			if json.Unmarshal(data, &m) != nil {
				return nil, false
			}
			return m.Embedding, true
		})
}

func (s *SQLiteStore) scanEmbeddings(ctx context.Context, query string, embedding []float32, topK int, extract func([]byte) ([]float32, bool)) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		v, ok := extract([]byte(data))
		if !ok || v == nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: CosineSimilarity(embedding, v)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topHits(hits, topK), nil
}

// CreateRelation implements Store. Duplicate (from, to, kind) edges are
// ignored.
func (s *SQLiteStore) CreateRelation(ctx context.Context, r Relation) error {
	if !ValidRelationKind(r.Kind) {
		return faults.New(faults.KindValidation, "graphstore", "unknown relation kind "+string(r.Kind))
	}
	if _, err := s.GetProblem(ctx, r.FromID); err != nil {
		return err
	}
	if _, err := s.GetProblem(ctx, r.ToID); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relations (from_id, to_id, kind, confidence, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.FromID, r.ToID, string(r.Kind), r.Confidence, r.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Relations implements Store.
func (s *SQLiteStore) Relations(ctx context.Context, problemID string) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, kind, confidence, created_at FROM relations
		 WHERE from_id = ? OR to_id = ? ORDER BY created_at`, problemID, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Relation
	for rows.Next() {
		var r Relation
		var kind, created string
		if err := rows.Scan(&r.FromID, &r.ToID, &kind, &r.Confidence, &created); err != nil {
			return nil, err
		}
		r.Kind = RelationKind(kind)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveReview implements Store.
func (s *SQLiteStore) SaveReview(ctx context.Context, r *PendingReview) error {
	existing, err := s.GetReviewByMention(ctx, r.MentionID)
	if err == nil {
		*r = existing
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode review: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, mention_id, domain, priority, resolved, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MentionID, r.Domain, string(r.Priority), boolToInt(r.Resolved()),
		r.CreatedAt.Format(time.RFC3339Nano), string(data))
	return err
}

// GetReview implements Store.
func (s *SQLiteStore) GetReview(ctx context.Context, id string) (PendingReview, error) {
	return s.reviewRow(ctx, `SELECT data FROM reviews WHERE id = ?`, id)
}

// GetReviewByMention implements Store.
func (s *SQLiteStore) GetReviewByMention(ctx context.Context, mentionID string) (PendingReview, error) {
	return s.reviewRow(ctx, `SELECT data FROM reviews WHERE mention_id = ?`, mentionID)
}

func (s *SQLiteStore) reviewRow(ctx context.Context, query, arg string) (PendingReview, error) {
	var data string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingReview{}, ErrNotFound
	}
	if err != nil {
		return PendingReview{}, err
	}
	var r PendingReview
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return PendingReview{}, fmt.Errorf("failed to decode review: %w", err)
	}
	return r, nil
}

// UpdateReview implements Store.
func (s *SQLiteStore) UpdateReview(ctx context.Context, r PendingReview) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode review: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET priority = ?, resolved = ?, data = ? WHERE id = ?`,
		string(r.Priority), boolToInt(r.Resolved()), string(data), r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReviews implements Store.
func (s *SQLiteStore) ListReviews(ctx context.Context, f ReviewFilter) ([]PendingReview, error) {
	query := `SELECT data FROM reviews WHERE 1=1`
	var args []any
	if f.Resolved != nil {
		query += ` AND resolved = ?`
		args = append(args, boolToInt(*f.Resolved))
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(f.Priority))
	}
	if f.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, f.Domain)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingReview
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r PendingReview
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to decode review row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank(out[i].Priority) < priorityRank(out[j].Priority)
	})
	return out, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: make(map[string]int), ByDomain: make(map[string]int)}
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM papers`, &st.Papers},
		{`SELECT COUNT(*) FROM authors`, &st.Authors},
		{`SELECT COUNT(*) FROM problems`, &st.Problems},
		{`SELECT COUNT(*) FROM mentions`, &st.Mentions},
		{`SELECT COUNT(*) FROM concepts`, &st.Concepts},
		{`SELECT COUNT(*) FROM relations`, &st.Relations},
		{`SELECT COUNT(*) FROM reviews WHERE resolved = 0`, &st.PendingReviews},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return Stats{}, err
		}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, domain, COUNT(*) FROM problems GROUP BY status, domain`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var domain sql.NullString
		var n int
		if err := rows.Scan(&status, &domain, &n); err != nil {
			return Stats{}, err
		}
		st.ByStatus[status] += n
		if domain.String != "" {
			st.ByDomain[domain.String] += n
		}
	}
	return st, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
