package paper

// Merge combines two records describing the same paper (same DOI or same
// arXiv id) field by field. Precedence is documented and deliberately
// simple so the combiner is associative and idempotent:
//
//   - scalar fields: earlier non-empty value wins
//   - citation_count: max
//   - authors: longest list wins
//   - is_open_access: OR
//   - fields_of_study: union, order of first appearance
//
// Aggregation order therefore never affects the merged result.
func Merge(a, b Paper) Paper {
	out := a

	out.DOI = firstNonEmpty(a.DOI, b.DOI)
	out.Title = firstNonEmpty(a.Title, b.Title)
	out.Abstract = firstNonEmpty(a.Abstract, b.Abstract)
	out.Venue = firstNonEmpty(a.Venue, b.Venue)
	out.ArxivID = firstNonEmpty(a.ArxivID, b.ArxivID)
	out.OpenAlexID = firstNonEmpty(a.OpenAlexID, b.OpenAlexID)
	out.S2ID = firstNonEmpty(a.S2ID, b.S2ID)
	out.PDFURL = firstNonEmpty(a.PDFURL, b.PDFURL)
	if out.Year == 0 {
		out.Year = b.Year
	}
	if b.CitationCount > out.CitationCount {
		out.CitationCount = b.CitationCount
	}
	if len(b.Authors) > len(out.Authors) {
		out.Authors = b.Authors
	}
	out.IsOpenAccess = a.IsOpenAccess || b.IsOpenAccess
	out.FieldsOfStudy = unionOrdered(a.FieldsOfStudy, b.FieldsOfStudy)

	if out.Source == "" {
		out.Source = b.Source
	}
	if out.RetrievedAt.IsZero() || (!b.RetrievedAt.IsZero() && b.RetrievedAt.Before(out.RetrievedAt)) {
		if !b.RetrievedAt.IsZero() {
			out.RetrievedAt = b.RetrievedAt
		}
	}
	return out
}

// SameWork reports whether two records share a key identifier and may be
// merged.
func SameWork(a, b Paper) bool {
	if a.DOI != "" && a.DOI == b.DOI {
		return true
	}
	if a.ArxivID != "" && a.ArxivID == b.ArxivID {
		return true
	}
	return false
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func unionOrdered(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
