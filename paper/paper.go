// Package paper defines the unified bibliographic model produced by the
// normalizer and consumed by the importer and extraction pipeline.
package paper

import "time"

// Source identifies where a record came from.
type Source string

const (
	SourceS2       Source = "s2"
	SourceArxiv    Source = "arxiv"
	SourceOpenAlex Source = "openalex"
	SourceCache    Source = "cache"
)

// Paper is the unified record. DOI is the primary key when present; papers
// without a DOI are keyed by their best available identifier (see BestID).
type Paper struct {
	DOI           string    `json:"doi,omitempty"`
	Title         string    `json:"title"`
	Abstract      string    `json:"abstract,omitempty"`
	Authors       []Author  `json:"authors,omitempty"`
	Year          int       `json:"year,omitempty"`
	Venue         string    `json:"venue,omitempty"`
	ArxivID       string    `json:"arxiv_id,omitempty"`
	OpenAlexID    string    `json:"openalex_id,omitempty"`
	S2ID          string    `json:"s2_id,omitempty"`
	PDFURL        string    `json:"pdf_url,omitempty"`
	IsOpenAccess  bool      `json:"is_open_access"`
	CitationCount int       `json:"citation_count"`
	FieldsOfStudy []string  `json:"fields_of_study,omitempty"`
	Source        Source    `json:"source"`
	RetrievedAt   time.Time `json:"retrieved_at"`
}

// Author is an ordered reference on a Paper. ID is assigned by the importer
// when the author node is created or matched in the graph.
type Author struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	ORCID        string   `json:"orcid,omitempty"`
	Affiliations []string `json:"affiliations,omitempty"`
}

// BestID returns the paper's strongest identifier, in the dedup precedence
// order DOI > arXiv > S2 > OpenAlex.
func (p *Paper) BestID() string {
	switch {
	case p.DOI != "":
		return "doi:" + p.DOI
	case p.ArxivID != "":
		return "arxiv:" + p.ArxivID
	case p.S2ID != "":
		return "s2:" + p.S2ID
	case p.OpenAlexID != "":
		return "openalex:" + p.OpenAlexID
	default:
		return ""
	}
}
