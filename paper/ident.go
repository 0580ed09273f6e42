package paper

import (
	"regexp"
	"strings"
)

// IDType classifies an external identifier by structure.
type IDType string

const (
	IDDoi      IDType = "doi"
	IDArxiv    IDType = "arxiv"
	IDS2       IDType = "s2"
	IDOpenAlex IDType = "openalex"
	IDURL      IDType = "url"
	IDUnknown  IDType = "unknown"
)

var (
	doiRe      = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
	arxivNewRe = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)
	arxivOldRe = regexp.MustCompile(`^[a-z-]+(\.[A-Z]{2})?/\d{7}(v\d+)?$`)
	s2Re       = regexp.MustCompile(`^[0-9a-f]{40}$|^\d+$`)
	openAlexRe = regexp.MustCompile(`^[Ww]\d{6,}$`)
)

// Detect classifies id structurally after prefix stripping. Order matters:
// DOI before URL (doi.org URLs resolve to DOIs), arXiv before S2 (a bare
// numeric S2 corpus id never contains a dot).
func Detect(id string) IDType {
	id = strings.TrimSpace(id)
	if id == "" {
		return IDUnknown
	}

	if clean := CleanDOI(id); clean != "" {
		return IDDoi
	}
	if clean := CleanArxivID(id); clean != "" {
		return IDArxiv
	}
	if openAlexRe.MatchString(strings.TrimPrefix(id, "https://openalex.org/")) {
		return IDOpenAlex
	}
	if s2Re.MatchString(id) {
		return IDS2
	}
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return IDURL
	}
	return IDUnknown
}

// CleanDOI strips doi prefixes and validates the 10.NNNN/suffix format.
// Invalid DOIs return ""; identifiers are normalized away, never rejected.
func CleanDOI(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:", "DOI:"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSpace(s)
	if doiRe.MatchString(s) {
		return s
	}
	return ""
}

// CleanArxivID strips arXiv prefixes and validates against both the new
// (YYMM.NNNNN[vN]) and old (category/NNNNNNN[vN]) formats. Invalid ids
// return "".
func CleanArxivID(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://arxiv.org/abs/", "http://arxiv.org/abs/", "https://arxiv.org/pdf/", "arXiv:", "arxiv:"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, ".pdf")
	s = strings.TrimSpace(s)
	if arxivNewRe.MatchString(s) || arxivOldRe.MatchString(s) {
		return s
	}
	return ""
}

// CleanOpenAlexID strips the canonical URL prefix and validates the WNNN…
// format, normalizing to upper-case W.
func CleanOpenAlexID(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "https://openalex.org/")
	if openAlexRe.MatchString(s) {
		return "W" + s[1:]
	}
	return ""
}

// Clean normalizes an identifier of a known type. Unknown types pass
// through trimmed.
func Clean(raw string, t IDType) string {
	switch t {
	case IDDoi:
		return CleanDOI(raw)
	case IDArxiv:
		return CleanArxivID(raw)
	case IDOpenAlex:
		return CleanOpenAlexID(raw)
	default:
		return strings.TrimSpace(raw)
	}
}
