// Package extract turns paper PDFs into text, text into sections, and
// sections into typed research-problem records.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/djjay0131/agentic-kg/faults"
)

// scannedTextFloor is the total character count below which a document is
// flagged as scanned (image-only) rather than text.
const scannedTextFloor = 100

// Page is one page of extracted text.
type Page struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// ExtractedText is the result of PDF text extraction.
type ExtractedText struct {
	Pages      []Page `json:"pages"`
	TotalPages int    `json:"total_pages"`
	// IsScanned flags a document with pages but almost no extractable text.
	// The caller decides whether to reject it.
	IsScanned bool              `json:"is_scanned"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Text joins all pages.
func (e *ExtractedText) Text() string {
	parts := make([]string, 0, len(e.Pages))
	for _, p := range e.Pages {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Header and footer lines stripped from every page: bare page numbers,
// arXiv banners, and common conference footers.
var boilerplateRes = []*regexp.Regexp{
	regexp.MustCompile(`^\d{1,4}$`),
	regexp.MustCompile(`^(?i)page\s+\d+(\s+of\s+\d+)?$`),
	regexp.MustCompile(`^arXiv:\d{4}\.\d{4,5}(v\d+)?(\s+\[[\w.-]+\])?.*$`),
	regexp.MustCompile(`^(?i)(proceedings of|to appear in|published as a conference paper|under review|preprint).*$`),
	regexp.MustCompile(`^(?i)©.*$|^(?i)copyright.*$`),
}

var dehyphenRe = regexp.MustCompile(`(\pL+)-\n([a-z]\pL*)`)

// ExtractPDF extracts per-page text from PDF bytes and post-processes it:
// NFC normalization, boilerplate line removal, dehyphenation, and
// whitespace collapse.
func ExtractPDF(data []byte) (ExtractedText, error) {
	if len(data) == 0 {
		return ExtractedText{}, faults.New(faults.KindValidation, "extract", "empty PDF bytes")
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ExtractedText{}, faults.Wrap(faults.KindValidation, "extract",
			fmt.Errorf("failed to parse PDF: %w", err))
	}

	total := reader.NumPage()
	out := ExtractedText{TotalPages: total}
	textLen := 0
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		raw, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		cleaned := CleanText(raw)
		textLen += len(cleaned)
		out.Pages = append(out.Pages, Page{PageNumber: i, Text: cleaned})
	}

	if total >= 1 && textLen < scannedTextFloor {
		out.IsScanned = true
	}
	return out, nil
}

// CleanText applies the post-processing pipeline to raw page text.
func CleanText(s string) string {
	s = norm.NFC.String(s)
	s = stripBoilerplate(s)
	s = dehyphenate(s)
	return collapseWhitespace(s)
}

func stripBoilerplate(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		drop := false
		for _, re := range boilerplateRes {
			if re.MatchString(trimmed) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// dehyphenate rejoins words split across a line break when the continuation
// begins lowercase, so "trans-\nformer" becomes "transformer". Hyphens
// before capitalised continuations stay.
func dehyphenate(s string) string {
	return dehyphenRe.ReplaceAllString(s, "$1$2")
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
