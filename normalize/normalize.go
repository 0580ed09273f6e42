// Package normalize maps raw per-source records onto the unified paper
// model. Each normalizer is a pure function; invalid identifiers are
// normalized away (set absent), never rejected.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/paper"
	"github.com/djjay0131/agentic-kg/sources"
	"github.com/djjay0131/agentic-kg/sources/arxiv"
	"github.com/djjay0131/agentic-kg/sources/openalex"
	"github.com/djjay0131/agentic-kg/sources/semanticscholar"
)

// Record maps any raw source record onto a Paper.
func Record(rec sources.Record) (paper.Paper, error) {
	switch r := rec.(type) {
	case semanticscholar.Record:
		return S2(r), nil
	case arxiv.Record:
		return Arxiv(r), nil
	case openalex.Record:
		return OpenAlex(r), nil
	default:
		return paper.Paper{}, faults.New(faults.KindNormalization, string(rec.RecordSource()),
			fmt.Sprintf("no normalizer for record type %T", rec))
	}
}

// S2 normalizes a Semantic Scholar record.
func S2(r semanticscholar.Record) paper.Paper {
	p := paper.Paper{
		DOI:           paper.CleanDOI(r.ExternalIDs.DOI),
		Title:         collapseSpace(r.Title),
		Abstract:      collapseSpace(r.Abstract),
		Venue:         r.Venue,
		Year:          r.Year,
		ArxivID:       paper.CleanArxivID(r.ExternalIDs.ArXiv),
		S2ID:          r.PaperID,
		CitationCount: r.CitationCount,
		IsOpenAccess:  r.IsOpenAccess,
		FieldsOfStudy: r.FieldsOfStudy,
		Source:        paper.SourceS2,
		RetrievedAt:   time.Now().UTC(),
	}
	if r.OpenAccessPdf != nil {
		p.PDFURL = r.OpenAccessPdf.URL
	}
	for i, a := range r.Authors {
		name := collapseSpace(a.Name)
		if name == "" {
			name = fmt.Sprintf("Unknown Author %d", i+1)
		}
		p.Authors = append(p.Authors, paper.Author{Name: name})
	}
	return p
}

// Arxiv normalizes an arXiv Atom entry.
func Arxiv(r arxiv.Record) paper.Paper {
	p := paper.Paper{
		DOI:          paper.CleanDOI(r.DOI),
		Title:        collapseSpace(r.Title),
		Abstract:     collapseSpace(r.Summary),
		ArxivID:      r.ArxivID(),
		PDFURL:       r.PDFURL(),
		IsOpenAccess: true, // everything on arXiv is open access
		Venue:        collapseSpace(r.JournalRef),
		Source:       paper.SourceArxiv,
		RetrievedAt:  time.Now().UTC(),
	}
	if len(r.Published) >= 4 {
		var year int
		if _, err := fmt.Sscanf(r.Published[:4], "%d", &year); err == nil {
			p.Year = year
		}
	}
	for _, a := range r.Authors {
		author := paper.Author{Name: collapseSpace(a.Name)}
		if aff := collapseSpace(a.Affiliation); aff != "" {
			author.Affiliations = []string{aff}
		}
		p.Authors = append(p.Authors, author)
	}
	for _, c := range r.Categories {
		p.FieldsOfStudy = append(p.FieldsOfStudy, c.Term)
	}
	return p
}

// OpenAlex normalizes an OpenAlex work, reconstructing the abstract from
// its inverted index.
func OpenAlex(r openalex.Record) paper.Paper {
	p := paper.Paper{
		DOI:           paper.CleanDOI(r.DOI),
		Title:         collapseSpace(r.Title),
		Abstract:      ReconstructAbstract(r.AbstractInvertedIndex),
		Year:          r.PublicationYear,
		OpenAlexID:    paper.CleanOpenAlexID(r.ID),
		CitationCount: r.CitedByCount,
		IsOpenAccess:  r.OpenAccess.IsOA,
		PDFURL:        r.OpenAccess.OAURL,
		Source:        paper.SourceOpenAlex,
		RetrievedAt:   time.Now().UTC(),
	}
	if r.PrimaryLocation != nil {
		if p.PDFURL == "" {
			p.PDFURL = r.PrimaryLocation.PdfURL
		}
		if r.PrimaryLocation.Source != nil {
			p.Venue = r.PrimaryLocation.Source.DisplayName
		}
	}
	for _, as := range r.Authorships {
		author := paper.Author{
			Name:  collapseSpace(as.Author.DisplayName),
			ORCID: strings.TrimPrefix(as.Author.ORCID, "https://orcid.org/"),
		}
		for _, inst := range as.Institutions {
			author.Affiliations = append(author.Affiliations, inst.DisplayName)
		}
		p.Authors = append(p.Authors, author)
	}
	for _, c := range r.Concepts {
		if c.Score >= 0.3 {
			p.FieldsOfStudy = append(p.FieldsOfStudy, c.DisplayName)
		}
	}
	return p
}

// ReconstructAbstract rebuilds prose from OpenAlex's word→positions map.
func ReconstructAbstract(inverted map[string][]int) string {
	if len(inverted) == 0 {
		return ""
	}
	type slot struct {
		pos  int
		word string
	}
	var slots []slot
	for word, positions := range inverted {
		for _, pos := range positions {
			slots = append(slots, slot{pos: pos, word: word})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].pos < slots[j].pos })
	words := make([]string, len(slots))
	for i, s := range slots {
		words[i] = s.word
	}
	return strings.Join(words, " ")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
